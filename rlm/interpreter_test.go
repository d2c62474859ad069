package rlm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestEnv(prompt string) *Environment {
	budget := &Budget{
		MaxSteps: 20, MaxSubCalls: 20, MaxDepth: 4,
		MaxPromptReadChars: 10_000, MaxTimeMs: 60_000,
		StartedAt: time.Now(),
	}
	return NewEnvironment(prompt, budget)
}

func TestExecSlicePromptAccountsBudget(t *testing.T) {
	env := newTestEnv("0123456789")
	ai := NewActionInterpreter(nil)

	out, err := ai.Exec(context.Background(), env, &Action{Op: "slice_prompt", Start: 2, End: 5, Out: "s"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"length":3}` {
		t.Errorf("unexpected stdout: %s", out)
	}
	if env.Scratch["s"] != "234" {
		t.Errorf("expected scratch 's'='234', got %v", env.Scratch["s"])
	}
	if env.Budget.PromptReadCharsUsed != 3 {
		t.Errorf("expected 3 chars accounted, got %d", env.Budget.PromptReadCharsUsed)
	}
}

func TestExecDocParseAndTableSum(t *testing.T) {
	env := newTestEnv("item,amount\nwidget,10\ngadget,20")
	ai := NewActionInterpreter(nil)

	if _, err := ai.Exec(context.Background(), env, &Action{Op: "doc_parse", Out: "doc"}, 1); err != nil {
		t.Fatalf("doc_parse error: %v", err)
	}

	out, err := ai.Exec(context.Background(), env, &Action{Op: "doc_table_sum", In: "doc", Column: "amount", Out: "sum"}, 2)
	if err != nil {
		t.Fatalf("doc_table_sum error: %v", err)
	}
	if out != `{"sum":30}` {
		t.Errorf("unexpected stdout: %s", out)
	}
}

func TestExecDocSelectRowsThenProjectColumns(t *testing.T) {
	env := newTestEnv("item,amount\nwidget,10\ngadget,20\nsprocket,30")
	ai := NewActionInterpreter(nil)

	if _, err := ai.Exec(context.Background(), env, &Action{Op: "doc_parse", Out: "doc"}, 1); err != nil {
		t.Fatalf("doc_parse error: %v", err)
	}
	if _, err := ai.Exec(context.Background(), env, &Action{Op: "doc_select_rows", In: "doc", Column: "amount", Comparator: "gte", Value: "20", Out: "filtered"}, 2); err != nil {
		t.Fatalf("doc_select_rows error: %v", err)
	}
	out, err := ai.Exec(context.Background(), env, &Action{Op: "doc_project_columns", In: "filtered", Columns: []string{"item"}, Out: "projected"}, 3)
	if err != nil {
		t.Fatalf("doc_project_columns error: %v", err)
	}
	if out != `{"rows":2}` {
		t.Errorf("unexpected stdout: %s", out)
	}
	lines, ok := env.Scratch["projected"].([]string)
	if !ok || len(lines) != 2 {
		t.Fatalf("expected 2 projected lines, got %v", env.Scratch["projected"])
	}
}

func TestExecDocSelectSectionRequiresMarkdown(t *testing.T) {
	env := newTestEnv("item,amount\nwidget,10")
	ai := NewActionInterpreter(nil)

	if _, err := ai.Exec(context.Background(), env, &Action{Op: "doc_parse", Format: "csv", Out: "doc"}, 1); err != nil {
		t.Fatalf("doc_parse error: %v", err)
	}
	_, err := ai.Exec(context.Background(), env, &Action{Op: "doc_select_section", In: "doc", Title: "x", Out: "y"}, 2)
	if err == nil {
		t.Fatal("expected error selecting a section from a non-markdown document")
	}
}

func TestExecFind(t *testing.T) {
	env := newTestEnv("ababab")
	ai := NewActionInterpreter(nil)

	out, err := ai.Exec(context.Background(), env, &Action{Op: "find", Needle: "ab", Out: "hits"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"hits":3}` {
		t.Errorf("unexpected stdout: %s", out)
	}
}

func TestExecFindHonorsFromOffset(t *testing.T) {
	env := newTestEnv("ababab")
	ai := NewActionInterpreter(nil)

	out, err := ai.Exec(context.Background(), env, &Action{Op: "find", Needle: "ab", From: 2, Out: "hits"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"hits":2}` {
		t.Errorf("expected scan to start at offset 2 and find 2 hits, got %s", out)
	}
	hits, ok := env.Scratch["hits"].([]int)
	if !ok || len(hits) != 2 || hits[0] != 2 {
		t.Errorf("expected first hit index 2, got %v", env.Scratch["hits"])
	}
}

func TestExecChunkNewlines(t *testing.T) {
	env := newTestEnv("a\nb\nc\nd\ne")
	ai := NewActionInterpreter(nil)

	out, err := ai.Exec(context.Background(), env, &Action{Op: "chunk_newlines", MaxLines: 2, Out: "chunks"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"chunks":3}` {
		t.Errorf("unexpected stdout: %s", out)
	}
	chunks, ok := env.Scratch["chunks"].([]string)
	if !ok || len(chunks) != 3 || chunks[2] != "e" {
		t.Fatalf("unexpected chunks: %v", env.Scratch["chunks"])
	}
}

func TestExecChunkTokensSlidingWindow(t *testing.T) {
	env := newTestEnv("one two three four five")
	ai := NewActionInterpreter(nil)

	_, err := ai.Exec(context.Background(), env, &Action{Op: "chunk_tokens", MaxTokens: 2, Overlap: 1, Out: "chunks"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chunks, ok := env.Scratch["chunks"].([]string)
	if !ok {
		t.Fatalf("expected chunks to be []string, got %T", env.Scratch["chunks"])
	}
	if chunks[0] != "one two" {
		t.Errorf("expected first chunk 'one two', got %q", chunks[0])
	}
}

func TestExecPickWordClampsIndex(t *testing.T) {
	env := newTestEnv("alpha beta gamma")
	ai := NewActionInterpreter(nil)

	out, err := ai.Exec(context.Background(), env, &Action{Op: "pick_word", Start: 100, Out: "w"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"word":"gamma"}` {
		t.Errorf("expected last word on out-of-range index, got %s", out)
	}
}

func TestExecSetAndFinalizeFromScratch(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(nil)

	// Read part of the prompt first, although the default environment does
	// not require a prompt read before finalize.
	if _, err := ai.Exec(context.Background(), env, &Action{Op: "slice_prompt", Start: 0, End: 3, Out: "x"}, 1); err != nil {
		t.Fatalf("slice_prompt error: %v", err)
	}
	if _, err := ai.Exec(context.Background(), env, &Action{Op: "set", Path: "answer", LiteralValue: "42"}, 2); err != nil {
		t.Fatalf("set error: %v", err)
	}
	out, err := ai.Exec(context.Background(), env, &Action{Op: "finalize", FromField: "answer"}, 3)
	if err != nil {
		t.Fatalf("finalize error: %v", err)
	}
	if out != `{"final":"42"}` {
		t.Errorf("unexpected stdout: %s", out)
	}
	if !env.HasFinal || env.Final != "42" {
		t.Errorf("expected env.Final='42', got %q (hasFinal=%v)", env.Final, env.HasFinal)
	}
}

func TestExecFinalizeRequiresPromptReadFirstWhenConfigured(t *testing.T) {
	env := newTestEnv("doc body")
	env.RequirePromptReadBeforeFinalize = true
	ai := NewActionInterpreter(nil)

	_, err := ai.Exec(context.Background(), env, &Action{Op: "finalize_literal", LiteralValue: "done"}, 1)
	if err == nil {
		t.Fatal("expected error finalizing before any prompt read when the guard is enabled")
	}
}

func TestExecFinalizeAllowedWithoutPromptReadByDefault(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(nil)

	out, err := ai.Exec(context.Background(), env, &Action{Op: "finalize_literal", LiteralValue: "ok"}, 1)
	if err != nil {
		t.Fatalf("expected finalize with zero prompt reads to succeed by default, got %v", err)
	}
	if out != `{"final":"ok"}` {
		t.Errorf("unexpected stdout: %s", out)
	}
}

func TestExecCallSymbol(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(nil)
	ai.Symbols["double"] = func(ctx context.Context, call SymbolCall) (interface{}, error) {
		n, _ := call.Args.(float64)
		return n * 2, nil
	}

	out, err := ai.Exec(context.Background(), env, &Action{Op: "call_symbol", Symbol: "double", Args: float64(21), Out: "result"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"symbol":"double"}` {
		t.Errorf("unexpected stdout: %s", out)
	}
	if env.Scratch["result"] != float64(42) {
		t.Errorf("expected scratch result 42, got %v", env.Scratch["result"])
	}
}

func TestExecCallSymbolUnknown(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(nil)

	_, err := ai.Exec(context.Background(), env, &Action{Op: "call_symbol", Symbol: "missing", Out: "x"}, 1)
	if err == nil {
		t.Fatal("expected error for unknown symbol")
	}
}

func TestExecSubMapRequiresDispatcher(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(nil)
	env.Scratch["items"] = []string{"a", "b"}

	_, err := ai.Exec(context.Background(), env, &Action{Op: "sub_map", In: "items", QueryTemplate: "q {{item}}", Concurrency: 1}, 1)
	if err == nil {
		t.Fatal("expected error when no SubCaller is configured")
	}
}

func TestExecSubMapPropagatesBareBudgetExceededUnwrapped(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(func(ctx context.Context, env *Environment, subPrompt string) (string, bool, error) {
		return "", false, NewBudgetExceededError(BudgetMaxSubCalls, 0)
	})
	env.Scratch["items"] = []string{"a"}

	_, err := ai.Exec(context.Background(), env, &Action{Op: "sub_map", In: "items", QueryTemplate: "q {{item}}", Concurrency: 1, Out: "out"}, 1)
	var budgetErr *BudgetExceededError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected a bare *BudgetExceededError to propagate unwrapped, got %T: %v", err, err)
	}
}

func TestExecSubMapWrapsChildFailureAsSubRLMError(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(func(ctx context.Context, env *Environment, subPrompt string) (string, bool, error) {
		return "", false, NewSubRLMError(errors.New("child blew up"))
	})
	env.Scratch["items"] = []string{"a"}

	_, err := ai.Exec(context.Background(), env, &Action{Op: "sub_map", In: "items", QueryTemplate: "q {{item}}", Concurrency: 1, Out: "out"}, 1)
	var subErr *SubRLMError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected a *SubRLMError, got %T: %v", err, err)
	}
}

func TestExecSubMapSuccess(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(func(ctx context.Context, env *Environment, subPrompt string) (string, bool, error) {
		return "answer-for-" + subPrompt, false, nil
	})
	env.Scratch["items"] = []string{"x", "y"}

	out, err := ai.Exec(context.Background(), env, &Action{
		Op: "sub_map", In: "items", QueryTemplate: "about {{item}}", Concurrency: 2, Out: "out",
	}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"mapped":2,"cached":0}` {
		t.Errorf("unexpected stdout: %s", out)
	}
	mapped, ok := env.Scratch["out"].([]interface{})
	if !ok || len(mapped) != 2 {
		t.Fatalf("expected 2 mapped results, got %v", env.Scratch["out"])
	}
}

func TestExecReduceJoin(t *testing.T) {
	env := newTestEnv("doc body")
	ai := NewActionInterpreter(nil)
	env.Scratch["parts"] = []string{"a", "b", "c"}

	out, err := ai.Exec(context.Background(), env, &Action{Op: "reduce_join", In: "parts", Sep: "-", Out: "joined"}, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"length":5}` {
		t.Errorf("unexpected stdout: %s", out)
	}
	if env.Scratch["joined"] != "a-b-c" {
		t.Errorf("expected joined 'a-b-c', got %v", env.Scratch["joined"])
	}
}
