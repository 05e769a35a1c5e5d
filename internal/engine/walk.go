package engine

import (
	"context"
	"strings"

	"github.com/klarlabs/klar/internal/sop"
)

// The SOP walk: three tiers. Deterministic rules first, hedging inference
// second, clarify-or-escalate last. The catalog is data; nothing here names a
// step id.

const verificationQuestion = "Apakah alatnya sudah berfungsi normal kak?"

var strongIntensityWords = []string{
	"banget", "parah", "terus-terusan", "terus menerus", "nonstop",
	"gak berhenti", "tidak berhenti", "sangat",
}

func (e *Engine) walk(ctx context.Context, uid, intent, text string) *Reply {
	flow := e.catalog.Flow(intent)
	if flow == nil {
		return e.emit(uid, []string{e.elaborateReply(ctx, uid, text)}, StatusOpen, nil)
	}

	started := e.store.FlagString(uid, intent+"_current_step") != ""
	if e.store.FlagString(uid, "active_intent") == "" {
		e.store.SetFlag(uid, "active_intent", intent)
	}

	step := flow.Step(e.store.FlagString(uid, intent+"_current_step"))
	if step == nil {
		step = flow.First()
	}

	// self-correction of the previous answer
	if started && isSelfCorrection(text) {
		prev := e.previousAnsweredStep(flow, uid, intent)
		if prev != nil {
			e.store.SetFlag(uid, prev.ID+"_answer", "no")
			e.store.ClearFlag(uid, prev.ID+"_waiting_confirm")
			e.store.ClearFlag(uid, prev.ID+"_confirm_data")
			if branch, ok := prev.OnAnswer("no"); ok {
				return e.executeBranch(ctx, uid, intent, flow, prev, branch, "no", text)
			}
		}
	}

	// confirmation turn
	if e.store.FlagBool(uid, step.ID+"_waiting_confirm") {
		return e.handleConfirm(ctx, uid, intent, flow, step, text)
	}

	// explicit resolution wins over everything else
	if started && isExplicitResolution(text) {
		return e.resolve(uid, intent, flow)
	}

	// bunyi intensity fast-path: first turn already carries the frequency
	if !started && step.Expects("sering") && containsAnyWord(strings.ToLower(text), strongIntensityWords) {
		e.store.SetFlag(uid, intent+"_current_step", step.ID)
		e.store.SetFlag(uid, step.ID+"_answer", "sering")
		if branch, ok := step.OnAnswer("sering"); ok && branch.Pending {
			return e.escalatePending(ctx, uid, intent, step)
		}
	}

	if !e.store.FlagBool(uid, step.ID+"_asked") {
		// a positive volunteered after an instruct goes through the
		// resolution guard, not straight to the step's ask
		if started {
			answer := parseAnswer(text, step.ExpectedResult)
			if answer == "yes" || (answer == "unclear" && inferAnswer(text, step.ExpectedResult) == "yes") {
				return e.askVerification(uid, intent, step)
			}
		}
		return e.askStep(ctx, uid, intent, step)
	}

	// the step was asked; parse the answer
	answer := parseAnswer(text, step.ExpectedResult)
	if answer == "unclear" {
		if inferred := inferAnswer(text, step.ExpectedResult); inferred != "" {
			answer = inferred
		}
	}

	if answer != "unclear" && step.Expects(answer) {
		e.store.SetFlag(uid, step.ID+"_answer", answer)
		if branch, ok := step.OnAnswer(answer); ok {
			return e.executeBranch(ctx, uid, intent, flow, step, branch, answer, text)
		}
	}

	return e.clarifyOrEscalate(ctx, uid, intent, step, text)
}

// askStep emits the step's ask template and marks it asked.
func (e *Engine) askStep(ctx context.Context, uid, intent string, step *sop.Step) *Reply {
	e.store.SetFlag(uid, intent+"_current_step", step.ID)
	e.store.SetFlag(uid, step.ID+"_asked", true)

	for _, branch := range step.Logic {
		if branch.PendingOnFirstAsk {
			return e.escalatePending(ctx, uid, intent, step)
		}
	}
	return e.emit(uid, []string{first(step.AskTemplates)}, StatusOpen, map[string]any{
		"intent": intent, "step": step.ID, "action": "ask",
	})
}

// askVerification inserts the resolution-guard question and arms the confirm
// flags.
func (e *Engine) askVerification(uid, intent string, step *sop.Step) *Reply {
	q := verificationQuestion
	if len(step.ConfirmTemplates) > 0 {
		q = step.ConfirmTemplates[0]
	}
	e.store.SetFlag(uid, intent+"_current_step", step.ID)
	e.store.SetFlag(uid, step.ID+"_waiting_confirm", true)
	e.store.SetFlag(uid, step.ID+"_verify_asked", true)
	e.store.SetFlag(uid, step.ID+"_confirm_data", map[string]any{
		"resolve_if_yes": true,
		"pending_if_no":  true,
	})
	return e.emit(uid, []string{q}, StatusOpen, map[string]any{
		"intent": intent, "step": step.ID, "action": "confirm",
	})
}

func (e *Engine) handleConfirm(ctx context.Context, uid, intent string, flow *sop.Flow, step *sop.Step, text string) *Reply {
	answer := parseAnswer(text, []string{"yes", "no"})
	if answer == "unclear" {
		if inferred := inferAnswer(text, []string{"yes", "no"}); inferred != "" {
			answer = inferred
		}
	}

	data := e.confirmData(uid, step.ID)
	switch answer {
	case "yes":
		if data.resolveIfYes {
			return e.resolve(uid, intent, flow)
		}
		e.store.ClearFlag(uid, step.ID+"_waiting_confirm")
		e.store.ClearFlag(uid, step.ID+"_confirm_data")
		return e.escalatePending(ctx, uid, intent, step)
	case "no":
		e.store.ClearFlag(uid, step.ID+"_waiting_confirm")
		e.store.ClearFlag(uid, step.ID+"_confirm_data")
		if data.nextIfNo != "" {
			if next := flow.Step(data.nextIfNo); next != nil {
				return e.advanceTo(ctx, uid, intent, next)
			}
		}
		if data.pendingIfNo {
			return e.escalatePending(ctx, uid, intent, step)
		}
		return e.escalatePending(ctx, uid, intent, step)
	}
	return e.clarifyOrEscalate(ctx, uid, intent, step, text)
}

type confirmBranch struct {
	resolveIfYes bool
	pendingIfNo  bool
	nextIfNo     string
}

func (e *Engine) confirmData(uid, stepID string) confirmBranch {
	out := confirmBranch{resolveIfYes: true, pendingIfNo: true}
	v, ok := e.store.Flag(uid, stepID+"_confirm_data")
	if !ok {
		return out
	}
	m, ok := v.(map[string]any)
	if !ok {
		return out
	}
	if b, ok := m["resolve_if_yes"].(bool); ok {
		out.resolveIfYes = b
	}
	if b, ok := m["pending_if_no"].(bool); ok {
		out.pendingIfNo = b
	}
	if s, ok := m["next_if_no"].(string); ok {
		out.nextIfNo = s
	}
	return out
}

func (e *Engine) executeBranch(ctx context.Context, uid, intent string, flow *sop.Flow, step *sop.Step, branch sop.Branch, answer, text string) *Reply {
	switch {
	case branch.Resolve:
		// direct resolve still passes the guard
		if isExplicitResolution(text) {
			return e.resolve(uid, intent, flow)
		}
		return e.askVerification(uid, intent, step)

	case branch.Pending:
		return e.escalatePending(ctx, uid, intent, step)

	case branch.Confirm:
		q := verificationQuestion
		if len(step.ConfirmTemplates) > 0 {
			q = step.ConfirmTemplates[0]
		}
		e.store.SetFlag(uid, step.ID+"_waiting_confirm", true)
		e.store.SetFlag(uid, step.ID+"_confirm_data", map[string]any{
			"resolve_if_yes": branch.ResolveIfYes,
			"pending_if_no":  branch.PendingIfNo,
			"next_if_no":     branch.NextIfNo,
		})
		return e.emit(uid, []string{q}, StatusOpen, map[string]any{
			"intent": intent, "step": step.ID, "action": "confirm",
		})

	case branch.Instruct:
		if branch.Next != "" {
			if next := flow.Step(branch.Next); next != nil {
				e.store.SetFlag(uid, intent+"_current_step", next.ID)
			}
		}
		return e.emit(uid, []string{first(step.InstructTemplates)}, StatusOpen, map[string]any{
			"intent": intent, "step": step.ID, "action": "instruct",
		})

	case branch.Offer:
		return e.emit(uid, []string{first(step.OfferTemplates)}, StatusOpen, map[string]any{
			"intent": intent, "step": step.ID, "action": "offer",
		})

	case branch.Next != "":
		if next := flow.Step(branch.Next); next != nil {
			return e.advanceTo(ctx, uid, intent, next)
		}
	}
	return e.clarifyOrEscalate(ctx, uid, intent, step, text)
}

// advanceTo moves the walk to a step and asks it in the same turn.
func (e *Engine) advanceTo(ctx context.Context, uid, intent string, next *sop.Step) *Reply {
	return e.askStep(ctx, uid, intent, next)
}

// clarifyOrEscalate is tier 3. Critical steps with a serious attempt earn a
// clarification; the per-intent counter hard-caps at three, then pending.
func (e *Engine) clarifyOrEscalate(ctx context.Context, uid, intent string, step *sop.Step, text string) *Reply {
	count := e.store.FlagInt(uid, intent+"_clarify_count")
	serious := len(strings.Fields(text)) >= 5

	if count < clarifyCap && step.Order >= 2 && serious {
		e.store.SetFlag(uid, intent+"_clarify_count", count+1)
		return e.emit(uid, []string{first(e.catalog.Metadata.GeneralTemplates.Clarify)}, StatusOpen, map[string]any{
			"intent": intent, "step": step.ID, "action": "clarify", "clarify_count": count + 1,
		})
	}
	return e.escalatePending(ctx, uid, intent, step)
}

const clarifyCap = 3

// escalatePending hands the flow to data collection: pending message plus the
// first missing-field question, status stays open until collection completes.
func (e *Engine) escalatePending(ctx context.Context, uid, intent string, step *sop.Step) *Reply {
	e.store.SetFlag(uid, "sop_pending", true)

	pendingMsg := "Baik kak, untuk kendala ini perlu pengecekan langsung oleh teknisi kami."
	if step != nil && len(step.PendingTemplates) > 0 {
		pendingMsg = step.PendingTemplates[0]
	}

	st := e.collector.GetState(uid)
	if st.NextField == "" {
		// all identity data already known: close out immediately
		e.store.SetFlag(uid, "data_collection_complete", true)
		e.store.SetFlag(uid, "pending_closing_sent", true)
		return e.emit(uid, []string{
			pendingMsg,
			first(e.catalog.Metadata.GeneralTemplates.ClosingPending),
		}, StatusPending, map[string]any{"intent": intent, "action": "pending"})
	}

	return e.emit(uid, []string{
		pendingMsg,
		e.collector.Question(uid, st.NextField),
	}, StatusOpen, map[string]any{
		"intent": intent, "action": "pending", "collecting": st.NextField,
	})
}

// resolve closes the flow: closing message, wipe step state, mark resolved.
func (e *Engine) resolve(uid, intent string, flow *sop.Flow) *Reply {
	e.resetIntentFlags(uid, intent)
	e.store.ClearFlag(uid, "active_intent")
	e.store.SetFlag(uid, "sop_resolved", true)
	return e.emit(uid, []string{first(e.catalog.Metadata.GeneralTemplates.ClosingResolved)}, StatusResolved, map[string]any{
		"intent": intent, "action": "resolve",
	})
}

// resetIntentFlags wipes every step-scoped flag for an intent.
func (e *Engine) resetIntentFlags(uid, intent string) {
	flow := e.catalog.Flow(intent)
	rec := e.store.Get(uid)
	for key := range rec.Flags {
		if strings.HasPrefix(key, intent+"_") {
			e.store.ClearFlag(uid, key)
			continue
		}
		if flow != nil {
			for _, s := range flow.Steps {
				if strings.HasPrefix(key, s.ID+"_") {
					e.store.ClearFlag(uid, key)
					break
				}
			}
		}
	}
}

// previousAnsweredStep finds the most recent step carrying an answer flag.
func (e *Engine) previousAnsweredStep(flow *sop.Flow, uid, intent string) *sop.Step {
	var last *sop.Step
	for _, s := range flow.Steps {
		if e.store.FlagString(uid, s.ID+"_answer") != "" || e.store.FlagBool(uid, s.ID+"_waiting_confirm") {
			last = s
		}
	}
	if last == nil {
		last = flow.Step(e.store.FlagString(uid, intent+"_current_step"))
	}
	return last
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}
