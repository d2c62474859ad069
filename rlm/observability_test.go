package rlm

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewObserver(t *testing.T) {
	t.Run("with debug enabled", func(t *testing.T) {
		obs := NewObserver(ObservabilityConfig{Debug: true})
		if obs == nil {
			t.Fatal("expected non-nil observer")
		}
		if !obs.config.Debug {
			t.Error("expected debug to be enabled")
		}
	})

	t.Run("with tracing enabled", func(t *testing.T) {
		obs := NewObserver(ObservabilityConfig{
			TraceEnabled: true,
			ServiceName:  "test-rlm",
		})
		if obs == nil {
			t.Fatal("expected non-nil observer")
		}
		if obs.tracer == nil {
			t.Error("expected tracer to be initialized")
		}
		obs.Shutdown()
	})
}

func TestNewNoopObserver(t *testing.T) {
	obs := NewNoopObserver()
	if obs == nil {
		t.Fatal("expected non-nil observer")
	}

	ctx := obs.StartTrace("test", nil)
	obs.EndTrace(ctx)
	obs.Debug("test", "message %s", "arg")
	obs.Error("test", "error %s", "arg")
	obs.Event("test", map[string]string{"key": "value"})
	obs.LLMCall("model", 1, 0, time.Second, nil)
}

func TestObserverEvents(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{Debug: true})

	obs.Event("test.event1", map[string]string{"key": "value1"})
	obs.Event("test.event2", map[string]string{"key": "value2"})

	events := obs.GetEvents()
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
	if events[0].Name != "test.event1" || events[1].Name != "test.event2" {
		t.Errorf("unexpected event names: %+v", events)
	}
}

func TestObserverEventRedactsSensitiveAttributes(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{Debug: true})

	obs.Event("provider.request", map[string]string{
		"api_key": "sk-should-not-leak",
		"model":   "gpt-4o-mini",
	})

	events := obs.GetEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Attributes["api_key"] != "[REDACTED]" {
		t.Errorf("expected api_key redacted in stored event, got %q", events[0].Attributes["api_key"])
	}
	if events[0].Attributes["model"] != "gpt-4o-mini" {
		t.Errorf("expected non-sensitive attribute preserved, got %q", events[0].Attributes["model"])
	}
}

func TestObserverEventsJSON(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{Debug: true})
	obs.Event("test.event", map[string]string{"key": "value"})

	jsonStr, err := obs.GetEventsJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(jsonStr, "test.event") {
		t.Error("expected JSON to contain event name")
	}
	if !strings.Contains(jsonStr, `"key"`) {
		t.Error("expected JSON to contain attribute key")
	}
}

func TestObserverLLMCall(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{Debug: true})
	obs.LLMCall("gpt-4o-mini", 3, 150, 2*time.Second, nil)

	events := obs.GetEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Type != "llm_call" {
		t.Errorf("expected type 'llm_call', got '%s'", event.Type)
	}
	if event.Attributes["message_count"] != "3" {
		t.Errorf("expected message_count '3', got '%s'", event.Attributes["message_count"])
	}
}

func TestObserverOnEventCallback(t *testing.T) {
	var received []ObservabilityEvent
	obs := NewObserver(ObservabilityConfig{
		Debug: true,
		OnEvent: func(event ObservabilityEvent) {
			received = append(received, event)
		},
	})

	obs.Event("callback.test", map[string]string{"data": "test"})

	if len(received) != 1 || received[0].Name != "callback.test" {
		t.Fatalf("expected callback to observe the event, got %+v", received)
	}
}

func TestObserverSpans(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{TraceEnabled: true, ServiceName: "test"})
	defer obs.Shutdown()

	traceCtx := obs.StartTrace("root", map[string]string{"op": "test"})
	spanCtx := obs.StartSpan("child", map[string]string{"step": "1"})
	obs.EndSpan(spanCtx)
	obs.EndTrace(traceCtx)

	events := obs.GetEvents()
	if len(events) < 2 {
		t.Errorf("expected at least trace_start and span_start events, got %d", len(events))
	}
}

func TestRedactSensitive(t *testing.T) {
	attrs := map[string]string{
		"model":   "gpt-4o",
		"api_key": "sk-12345",
		"secret":  "my-secret",
		"query":   "hello world",
	}

	redacted := RedactSensitive(attrs)

	if redacted["model"] != "gpt-4o" {
		t.Error("model should not be redacted")
	}
	if redacted["api_key"] != "[REDACTED]" {
		t.Error("api_key should be redacted")
	}
	if redacted["secret"] != "[REDACTED]" {
		t.Error("secret should be redacted")
	}
	if redacted["query"] != "hello world" {
		t.Error("query should not be redacted")
	}
}

func TestFormatStatsWithObservability(t *testing.T) {
	stats := RunStats{
		LlmCalls:       5,
		Steps:          3,
		Depth:          1,
		ParsingRetries: 2,
	}

	obs := NewObserver(ObservabilityConfig{Debug: true})
	obs.Event("test", map[string]string{"data": "value"})

	result := FormatStatsWithObservability(stats, obs)

	if result["llm_calls"] != 5 {
		t.Errorf("expected llm_calls 5, got %v", result["llm_calls"])
	}
	if result["parsing_retries"] != 2 {
		t.Errorf("expected parsing_retries 2, got %v", result["parsing_retries"])
	}
	if _, ok := result["trace_events"]; !ok {
		t.Error("expected trace_events in debug mode")
	}
}

// The following tests lock in the wiring from spec §8's tracing requirement:
// every RootLoop, ActionInterpreter, and SubRLMDispatcher call emits a span
// through whatever Observer it's given, instead of the Observer sitting
// unreachable off to the side of the turn cycle.

func TestActionInterpreterExecEmitsReplExecSpan(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{TraceEnabled: true, ServiceName: "test"})
	defer obs.Shutdown()

	env := newTestEnv("hello world")
	ai := NewActionInterpreter(nil)
	ai.Observer = obs

	if _, err := ai.Exec(context.Background(), env, &Action{Op: "prompt_meta"}, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, e := range obs.GetEvents() {
		if e.Type == "span_start" && e.Name == "repl_exec" {
			found = true
		}
	}
	if !found {
		t.Error("expected ActionInterpreter.Exec to emit a repl_exec span")
	}
}

func TestRootLoopRunEmitsRootStepSpanAndLLMCallEvent(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{TraceEnabled: true, ServiceName: "test"})
	defer obs.Shutdown()

	provider := &scriptedProvider{responses: []string{
		`{"op":"set","path":"answer","value":"ok"}`,
		`{"op":"finalize","from":"answer"}`,
	}}

	env := newTestEnv("doc body")
	ai := NewActionInterpreter(nil)
	loop := NewRootLoop(provider, ai)
	loop.Observer = obs

	if _, err := loop.Run(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sawRootStep, sawLLMCall bool
	for _, e := range obs.GetEvents() {
		if e.Type == "span_start" && e.Name == "root_step" {
			sawRootStep = true
		}
		if e.Type == "llm_call" {
			sawLLMCall = true
		}
	}
	if !sawRootStep {
		t.Error("expected RootLoop.Run to emit a root_step span per turn")
	}
	if !sawLLMCall {
		t.Error("expected RootLoop.Run to emit an llm_call event per provider round-trip")
	}
}

func TestSubRLMDispatcherCallEmitsSubCallSpan(t *testing.T) {
	obs := NewObserver(ObservabilityConfig{TraceEnabled: true, ServiceName: "test"})
	defer obs.Shutdown()

	provider := &scriptedProvider{responses: []string{
		`{"op":"set","path":"answer","value":"child-done"}`,
		`{"op":"finalize","from":"answer"}`,
	}}

	ai := NewActionInterpreter(nil)
	loop := NewRootLoop(provider, ai)
	loop.Observer = obs

	dispatcher := NewSubRLMDispatcher(loop)
	dispatcher.Observer = obs

	env := newTestEnv("root prompt")
	_, _, err := dispatcher.Call(context.Background(), env, "child prompt", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found := false
	for _, e := range obs.GetEvents() {
		if e.Type == "span_start" && e.Name == "sub_call" {
			found = true
		}
	}
	if !found {
		t.Error("expected SubRLMDispatcher.Call to emit a sub_call span")
	}
}
