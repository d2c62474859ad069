package rlm

import (
	"time"

	"github.com/google/uuid"
)

// previewChars bounds trace previews so a trace holds at most the first
// previewChars runes of the document body, per spec §9 ("Trace append: ...
// bounded-size previews").
const previewChars = 200

// TraceEventKind enumerates the three event shapes spec §3 allows in a
// Trace.
type TraceEventKind string

const (
	TraceRootStep TraceEventKind = "root_step"
	TraceReplExec TraceEventKind = "repl_exec"
	TraceSubCall  TraceEventKind = "sub_call"
)

// TraceEvent is one append-only record. Not every field is populated for
// every Kind; see RootLoop and SubRLMDispatcher for which fields each kind
// sets.
type TraceEvent struct {
	ID            string         `json:"id"`
	Kind          TraceEventKind `json:"kind"`
	Timestamp     time.Time      `json:"timestamp"`
	Step          int            `json:"step,omitempty"`
	Op            string         `json:"op,omitempty"`
	Stdout        string         `json:"stdout,omitempty"`
	ScratchKeys   []string       `json:"scratchKeys,omitempty"`
	PromptPreview string         `json:"promptPreview,omitempty"`
	TokenUsage    *int           `json:"tokenUsage,omitempty"`
	Cached        bool           `json:"cached,omitempty"`
	ResultMeta    string         `json:"resultMeta,omitempty"`
	BudgetUsed    map[string]int `json:"budgetUsed,omitempty"`
}

// Trace is an append-only, per-environment record of previews and sub-call
// results. Child traces are never merged into a parent's trace — only
// sub-call summaries surface (spec §3, §9).
type Trace struct {
	events []TraceEvent
}

// NewTrace builds an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// Append records an event, assigning it an id and timestamp if missing.
func (t *Trace) Append(event TraceEvent) TraceEvent {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	t.events = append(t.events, event)
	return event
}

// Events returns a copy of the recorded events, in temporal order.
func (t *Trace) Events() []TraceEvent {
	out := make([]TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}

// preview truncates s to at most previewChars runes, appending an ellipsis
// marker when truncated.
func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewChars {
		return s
	}
	return string(r[:previewChars]) + "…"
}
