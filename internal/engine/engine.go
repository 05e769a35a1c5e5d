// Package engine is the conversation turn handler: spam gate, buffering,
// classification, SOP walk, pending/data-collection routing. One Handle call
// per inbound message; turns for the same user are strictly serialized.
package engine

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/klarlabs/klar/internal/chatlog"
	"github.com/klarlabs/klar/internal/collector"
	"github.com/klarlabs/klar/internal/memory"
	"github.com/klarlabs/klar/internal/normalize"
	"github.com/klarlabs/klar/internal/ollama"
	"github.com/klarlabs/klar/internal/prompts"
	"github.com/klarlabs/klar/internal/sop"
	"github.com/klarlabs/klar/internal/stagelog"
	"github.com/klarlabs/klar/internal/telemetry"
)

// Reply statuses.
const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusBlocked  = "blocked"
)

// Next actions for the caller.
const (
	NextAwait = "await_reply"
	NextEnd   = "end"
)

// Reply is the outcome of one turn. Bubbles are sent to the user in order.
type Reply struct {
	Bubbles []string
	Next    string
	Status  string
	Meta    map[string]any
}

// Engine wires the turn pipeline together.
type Engine struct {
	store     *memory.Store
	llm       ollama.Generator
	catalog   *sop.Catalog
	collector *collector.Collector
	chatlog   *chatlog.Logger
	stages    *stagelog.Trail
	prompts   *prompts.Library

	now func() time.Time // test hook
}

// New builds an Engine. stages may be nil.
func New(store *memory.Store, llm ollama.Generator, catalog *sop.Catalog, col *collector.Collector, log *chatlog.Logger, stages *stagelog.Trail, lib *prompts.Library) *Engine {
	if lib == nil {
		lib = prompts.NewLibrary("")
	}
	return &Engine{
		store:     store,
		llm:       llm,
		catalog:   catalog,
		collector: col,
		chatlog:   log,
		stages:    stages,
		prompts:   lib,
		now:       time.Now,
	}
}

// Handle processes one inbound message for a user. The per-user lock is held
// across the whole turn, LLM calls included, so two turns for the same user
// never interleave.
func (e *Engine) Handle(ctx context.Context, uid, text string) *Reply {
	ctx, span := telemetry.Tracer("engine").Start(ctx, "engine.handle_turn")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", uid))

	start := e.now()
	e.store.LockUser(uid)
	defer e.store.UnlockUser(uid)

	text = strings.TrimSpace(text)

	var reply *Reply
	if text == "" {
		reply = e.handleEmpty(uid)
	} else {
		reply = e.handleTurn(ctx, uid, text, 0)
	}

	if reply.Meta == nil {
		reply.Meta = map[string]any{}
	}
	reply.Meta["took_ms"] = e.now().Sub(start).Milliseconds()
	span.SetAttributes(attribute.String("turn.status", reply.Status))
	return reply
}

func (e *Engine) handleEmpty(uid string) *Reply {
	if e.store.FlagBool(uid, "sop_pending") && !e.store.FlagBool(uid, "data_collection_complete") {
		st := e.collector.GetState(uid)
		if st.NextField != "" {
			return e.emit(uid, []string{e.collector.Question(uid, st.NextField)}, StatusOpen, nil)
		}
	}
	return e.emit(uid, []string{"Boleh diceritakan kendalanya kak?"}, StatusOpen, nil)
}

// handleTurn is the pipeline. depth guards the single allowed recursion from
// the new-session reset.
func (e *Engine) handleTurn(ctx context.Context, uid, rawText string, depth int) *Reply {
	text := normalize.ForIntent(rawText)
	prevActivity := e.store.FlagString(uid, "last_activity")

	historyLen := len(e.store.History(uid))
	if depth == 0 {
		e.store.AppendHistory(uid, "user", rawText, nil)
		id := e.store.GetIdentity(uid)
		e.chatlog.LogIncoming(uid, rawText, map[string]any{
			"active_intent": e.store.FlagString(uid, "active_intent"),
			"sop_pending":   e.store.FlagBool(uid, "sop_pending"),
			"name":          id.Name,
			"product":       id.Product,
		})
	}
	e.store.SetFlag(uid, "last_activity", e.now().UTC().Format(time.RFC3339))
	e.stages.Mark(uid, "turn_start", map[string]any{"depth": depth})

	// (b) abuse gate
	if r := e.handleAbuse(uid, text); r != nil {
		return r
	}

	// (c) post-resolved acknowledgement shortcut
	if e.store.FlagBool(uid, "sop_resolved") {
		if isAcknowledgement(text) {
			return e.emit(uid, []string{"Sama-sama kak, senang bisa membantu!"}, StatusResolved, nil)
		}
		e.store.ClearFlag(uid, "sop_resolved")
	}

	// (d) incompleteness gate
	if depth == 0 {
		r, joined := e.bufferGate(uid, text, historyLen)
		if r != nil {
			return r
		}
		text = joined
	}

	// (e) classification
	cls := e.classify(ctx, uid, text)
	active := e.store.FlagString(uid, "active_intent")

	// (f) rule-based additional-complaint detection overrides the LLM
	additional := cls.AdditionalComplaint
	if active != "" {
		if scanned := scanAdditionalComplaint(text, active); scanned != "none" {
			additional = scanned
		}
	}

	// (g) rapid-switch: correction keyword + a different detected intent
	if active != "" && cls.Intent != "none" && cls.Intent != active && hasCorrectionKeyword(text) {
		e.resetIntentFlags(uid, active)
		e.store.ClearFlag(uid, "active_intent")
		additional = "none"
		cls.IsNewComplaint = true
		active = ""
		e.stages.Mark(uid, "rapid_switch", map[string]any{"new_intent": cls.Intent})
	}

	// (h) distraction: mid-flow utterance that is not an answer
	if active != "" && !e.store.FlagBool(uid, "sop_pending") && additional == "none" {
		lastBot := e.store.LastBotMessage(uid)
		if lastBot != "" && !strings.Contains(lastBot, "?") {
			if dtype := classifyDistraction(text); dtype != "unclear" {
				ask := e.currentStepAsk(uid, active)
				return e.emit(uid, []string{e.distractionReply(ctx, uid, text, dtype, ask)}, StatusOpen, map[string]any{
					"distraction": dtype,
				})
			}
		}
	}

	// (i) pending branch
	if e.store.FlagBool(uid, "sop_pending") {
		return e.handlePending(ctx, uid, text, cls, additional, prevActivity, depth)
	}

	// lock-intent: a second complaint never switches the active flow
	if active != "" && additional != "none" && additional != active {
		e.queueComplaint(uid, additional)
		ask := e.currentStepAsk(uid, active)
		return e.emit(uid, []string{e.ackAndRedirect(ctx, uid, additional, active, ask)}, StatusOpen, map[string]any{
			"queued": additional,
		})
	}

	// (j) primary intent routing
	if cls.Intent != "none" {
		return e.walk(ctx, uid, cls.Intent, text)
	}

	// (k) fallback
	if cls.HasGreeting {
		return e.emit(uid, []string{e.greetingReply(ctx, uid, cls.GreetingPart)}, StatusOpen, nil)
	}
	return e.emit(uid, []string{e.elaborateReply(ctx, uid, text)}, StatusOpen, nil)
}

func (e *Engine) handlePending(ctx context.Context, uid, text string, cls Classification, additional, prevActivity string, depth int) *Reply {
	active := e.store.FlagString(uid, "active_intent")

	if e.store.FlagBool(uid, "data_collection_complete") {
		if !e.store.FlagBool(uid, "pending_closing_sent") {
			e.store.SetFlag(uid, "pending_closing_sent", true)
			return e.emit(uid, []string{first(e.catalog.Metadata.GeneralTemplates.ClosingPending)}, StatusPending, nil)
		}
		if isAcknowledgement(text) {
			return e.emit(uid, []string{"Sama-sama kak."}, StatusPending, nil)
		}
	}

	// new-session signal: bare greeting after a long silence restarts
	if depth == 0 && !e.store.FlagBool(uid, "pipeline_recursed") &&
		isGreetingOnly(strings.ToLower(text)) && e.silenceSince(prevActivity) >= sessionGap {
		e.clearPendingState(uid, active)
		e.store.SetFlag(uid, "pipeline_recursed", true)
		r := e.handleTurn(ctx, uid, text, depth+1)
		e.store.ClearFlag(uid, "pipeline_recursed")
		return r
	}

	// additional complaints are queued, collection continues
	if additional != "none" && additional != active {
		e.queueComplaint(uid, additional)
		st := e.collector.GetState(uid)
		followUp := ""
		if st.NextField != "" {
			followUp = " " + e.collector.Question(uid, st.NextField)
		}
		return e.emit(uid, []string{
			"Baik kak, keluhan tersebut sudah kami catat juga ya." + followUp,
		}, StatusOpen, map[string]any{"queued": additional})
	}

	if e.store.FlagBool(uid, "data_collection_complete") {
		// closing already sent and this is not an ack: keep it short
		return e.emit(uid, []string{"Baik kak, laporannya sudah kami proses ya."}, StatusPending, nil)
	}

	res := e.collector.Process(ctx, uid, text)
	e.stages.Mark(uid, "data_collection", map[string]any{"action": res.Action})

	if res.Action == collector.ActionOffTopic {
		field := ""
		if res.OffTopic != nil {
			field = res.OffTopic.MissingField
		}
		return e.emit(uid, []string{e.collector.ReturnToDataMessage(ctx, uid, field)}, StatusOpen, map[string]any{
			"collection": res.Action,
		})
	}

	if res.IsComplete {
		e.store.SetFlag(uid, "data_collection_complete", true)
		e.store.SetFlag(uid, "pending_closing_sent", true)
		return e.emit(uid, []string{res.Response}, StatusPending, map[string]any{
			"collection": res.Action,
		})
	}

	return e.emit(uid, []string{res.Response}, StatusOpen, map[string]any{
		"collection": res.Action,
	})
}

// activeStep returns the step the flow is parked on, nil when the flow has
// not started.
func (e *Engine) activeStep(uid, intent string) *sop.Step {
	flow := e.catalog.Flow(intent)
	if flow == nil {
		return nil
	}
	id := e.store.FlagString(uid, intent+"_current_step")
	if id == "" {
		return nil
	}
	return flow.Step(id)
}

// currentStepAsk returns the ask template of the active step.
func (e *Engine) currentStepAsk(uid, intent string) string {
	flow := e.catalog.Flow(intent)
	if flow == nil {
		return first(e.catalog.Metadata.GeneralTemplates.Clarify)
	}
	step := flow.Step(e.store.FlagString(uid, intent+"_current_step"))
	if step == nil {
		step = flow.First()
	}
	if step == nil {
		return first(e.catalog.Metadata.GeneralTemplates.Clarify)
	}
	return first(step.AskTemplates)
}

func (e *Engine) queueComplaint(uid, intent string) {
	queued := e.store.FlagStrings(uid, "queued_complaints")
	for _, q := range queued {
		if q == intent {
			return
		}
	}
	e.store.SetFlag(uid, "queued_complaints", append(queued, intent))
}

func (e *Engine) clearPendingState(uid, activeIntent string) {
	e.store.ClearFlag(uid, "sop_pending")
	e.store.ClearFlag(uid, "pending_closing_sent")
	e.store.ClearFlag(uid, "data_collection_complete")
	if activeIntent != "" {
		e.resetIntentFlags(uid, activeIntent)
		e.store.ClearFlag(uid, "active_intent")
	}
}

func (e *Engine) silenceSince(prevActivity string) time.Duration {
	if prevActivity == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, prevActivity)
	if err != nil {
		return 0
	}
	return e.now().Sub(t)
}

// emit appends bot bubbles to history, writes the outgoing chat-log record,
// and builds the Reply.
func (e *Engine) emit(uid string, bubbles []string, status string, meta map[string]any) *Reply {
	kept := make([]string, 0, len(bubbles))
	for _, b := range bubbles {
		if strings.TrimSpace(b) == "" {
			continue
		}
		kept = append(kept, b)
		e.store.AppendHistory(uid, "bot", b, nil)
	}

	next := NextAwait
	if status == StatusResolved {
		next = NextEnd
	}

	logMeta := map[string]any{}
	for k, v := range meta {
		logMeta[k] = v
	}
	logMeta["next"] = next
	e.chatlog.LogOutgoing(uid, strings.Join(kept, "\n"), status, logMeta)

	return &Reply{Bubbles: kept, Next: next, Status: status, Meta: meta}
}

// AdminReset wipes a user record. The denial for a wrong secret lives in the
// HTTP layer; by the time this runs the caller is trusted.
func (e *Engine) AdminReset(uid string) *Reply {
	e.store.LockUser(uid)
	defer e.store.UnlockUser(uid)
	e.store.Clear(uid)
	return &Reply{
		Bubbles: []string{"Memori percakapan sudah direset ya kak."},
		Next:    NextAwait,
		Status:  StatusOpen,
	}
}

// AdminForcePending jumps straight into data collection.
func (e *Engine) AdminForcePending(uid string) *Reply {
	e.store.LockUser(uid)
	defer e.store.UnlockUser(uid)
	e.store.SetFlag(uid, "sop_pending", true)
	st := e.collector.GetState(uid)
	field := st.NextField
	if field == "" {
		field = "name"
	}
	return e.emit(uid, []string{e.collector.Question(uid, field)}, StatusOpen, map[string]any{"forced": "pending"})
}

// Store exposes the memory store to the HTTP layer.
func (e *Engine) Store() *memory.Store { return e.store }
