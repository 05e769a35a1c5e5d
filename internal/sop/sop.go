// Package sop loads the troubleshooting catalog. The catalog is data: the
// engine walks whatever intents and steps the file defines and never
// hard-codes step ids. Loaded once at startup, immutable afterwards.
package sop

import (
	"fmt"
	"os"
	"strings"

	"github.com/titanous/json5"
)

// Catalog is the full troubleshooting tree plus shared templates.
type Catalog struct {
	Intents  map[string]*Flow `json:"intents"`
	Metadata Metadata         `json:"metadata"`
}

// Flow is the ordered step list for one intent.
type Flow struct {
	Steps []*Step `json:"steps"`
}

// Metadata carries templates shared across intents.
type Metadata struct {
	GeneralTemplates GeneralTemplates `json:"general_templates"`
}

// GeneralTemplates are the intent-independent phrasings.
type GeneralTemplates struct {
	Clarify         []string `json:"clarify"`
	ClosingResolved []string `json:"closing_resolved"`
	ClosingPending  []string `json:"closing_pending"`
}

// Step is one node of a flow. ExpectedResult names the answers the step can
// parse; Logic maps each to a branch.
type Step struct {
	ID                string            `json:"id"`
	Order             int               `json:"order"`
	AskTemplates      []string          `json:"ask_templates,omitempty"`
	ConfirmTemplates  []string          `json:"confirm_templates,omitempty"`
	InstructTemplates []string          `json:"instruct_templates,omitempty"`
	OfferTemplates    []string          `json:"offer_templates,omitempty"`
	ResolveTemplates  []string          `json:"resolve_templates,omitempty"`
	PendingTemplates  []string          `json:"pending_templates,omitempty"`
	ExpectedResult    []string          `json:"expected_result,omitempty"`
	Logic             map[string]Branch `json:"logic,omitempty"`
}

// Branch is one logic outcome. Action booleans are mutually exclusive in a
// well-formed catalog; Next moves the walk without emitting a step action.
type Branch struct {
	Instruct          bool   `json:"instruct,omitempty"`
	Confirm           bool   `json:"confirm,omitempty"`
	Offer             bool   `json:"offer,omitempty"`
	Resolve           bool   `json:"resolve,omitempty"`
	Pending           bool   `json:"pending,omitempty"`
	Next              string `json:"next,omitempty"`
	ResolveIfYes      bool   `json:"resolve_if_yes,omitempty"`
	NextIfNo          string `json:"next_if_no,omitempty"`
	PendingIfNo       bool   `json:"pending_if_no,omitempty"`
	PendingOnFirstAsk bool   `json:"pending_on_first_ask,omitempty"`
}

// Load reads and validates a catalog file (JSON5: comments allowed).
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sop catalog: %w", err)
	}
	var cat Catalog
	if err := json5.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse sop catalog: %w", err)
	}
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sop catalog: %w", err)
	}
	return &cat, nil
}

// Flow returns the flow for an intent, or nil.
func (c *Catalog) Flow(intent string) *Flow {
	return c.Intents[intent]
}

// IntentIDs lists the defined intents.
func (c *Catalog) IntentIDs() []string {
	ids := make([]string, 0, len(c.Intents))
	for id := range c.Intents {
		ids = append(ids, id)
	}
	return ids
}

// First returns the entry step of the flow.
func (f *Flow) First() *Step {
	if f == nil || len(f.Steps) == 0 {
		return nil
	}
	return f.Steps[0]
}

// Step finds a step by id.
func (f *Flow) Step(id string) *Step {
	if f == nil {
		return nil
	}
	for _, s := range f.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// OnAnswer returns the branch for a parsed answer value ("yes", "no",
// "sering", "jarang").
func (s *Step) OnAnswer(value string) (Branch, bool) {
	b, ok := s.Logic["on_answer_"+value]
	return b, ok
}

// Expects reports whether value is in the step's expected-result set.
func (s *Step) Expects(value string) bool {
	for _, v := range s.ExpectedResult {
		if v == value {
			return true
		}
	}
	return false
}

// Validate checks referential integrity: unique step ids, resolvable next
// references, a branch per expected answer, and templates for every action a
// branch can trigger.
func (c *Catalog) Validate() error {
	if len(c.Intents) == 0 {
		return fmt.Errorf("no intents defined")
	}
	var problems []string

	for intent, flow := range c.Intents {
		if flow == nil || len(flow.Steps) == 0 {
			problems = append(problems, fmt.Sprintf("%s: no steps", intent))
			continue
		}
		seen := map[string]bool{}
		for _, step := range flow.Steps {
			where := intent + "/" + step.ID
			if step.ID == "" {
				problems = append(problems, intent+": step with empty id")
				continue
			}
			if seen[step.ID] {
				problems = append(problems, where+": duplicate step id")
			}
			seen[step.ID] = true
			if len(step.AskTemplates) == 0 {
				problems = append(problems, where+": no ask templates")
			}
			for _, expected := range step.ExpectedResult {
				if _, ok := step.OnAnswer(expected); !ok {
					problems = append(problems, fmt.Sprintf("%s: expected answer %q has no on_answer branch", where, expected))
				}
			}
			for key, branch := range step.Logic {
				if !strings.HasPrefix(key, "on_answer_") {
					problems = append(problems, where+": logic key "+key+" not on_answer_*")
				}
				if branch.Instruct && len(step.InstructTemplates) == 0 {
					problems = append(problems, where+": instruct branch but no instruct templates")
				}
				if branch.Confirm && len(step.ConfirmTemplates) == 0 {
					problems = append(problems, where+": confirm branch but no confirm templates")
				}
				if branch.Offer && len(step.OfferTemplates) == 0 {
					problems = append(problems, where+": offer branch but no offer templates")
				}
				for _, ref := range []string{branch.Next, branch.NextIfNo} {
					if ref != "" && flow.Step(ref) == nil {
						problems = append(problems, where+": next reference "+ref+" not found")
					}
				}
			}
		}
	}

	if len(c.Metadata.GeneralTemplates.Clarify) == 0 {
		problems = append(problems, "metadata: no clarify templates")
	}
	if len(c.Metadata.GeneralTemplates.ClosingResolved) == 0 {
		problems = append(problems, "metadata: no closing_resolved templates")
	}
	if len(c.Metadata.GeneralTemplates.ClosingPending) == 0 {
		problems = append(problems, "metadata: no closing_pending templates")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
