package rlm

import (
	"context"
	"fmt"
	"strings"
)

// QueryOptimizerConfig configures the optional query-rewriting pass, per
// SPEC_FULL.md §9. It is opt-in: Enabled defaults to false, and the rewrite
// is discarded on any provider error.
type QueryOptimizerConfig struct {
	Enabled        bool
	MaxOptimizeLen int // context length below which a specific-looking task is passed through unchanged
}

// QueryOptimizer rewrites a vague root-level task into a more specific one.
// It is grounded on the teacher's MetaAgent but narrowed to tightening a
// task string, not structured-extraction prompts. Neither RootLoop nor
// PlannedExecutor calls it; a caller runs Optimize itself.
type QueryOptimizer struct {
	Provider LMProvider
	Config   QueryOptimizerConfig
	Observer *Observer
}

// NewQueryOptimizer builds an optimizer over the given provider.
func NewQueryOptimizer(provider LMProvider, config QueryOptimizerConfig, obs *Observer) *QueryOptimizer {
	if obs == nil {
		obs = NewNoopObserver()
	}
	return &QueryOptimizer{Provider: provider, Config: config, Observer: obs}
}

// Optimize rewrites task given the length of the document it will run
// against. On any failure, or when the optimizer is disabled, or when the
// task already looks specific, it returns task unchanged.
func (qo *QueryOptimizer) Optimize(ctx context.Context, task string, contextLength int) (string, error) {
	if !qo.Config.Enabled {
		return task, nil
	}

	qo.Observer.Debug("query_optimizer", "considering optimization for task: %s", truncateStr(task, 200))

	if !qo.needsOptimization(task, contextLength) {
		qo.Observer.Debug("query_optimizer", "task already specific, passing through")
		return task, nil
	}

	messages := []Message{
		{Role: RoleSystem, Content: queryOptimizerSystemPrompt},
		{Role: RoleUser, Content: qo.buildPrompt(task, contextLength)},
	}

	result, err := qo.Provider.Complete(ctx, messages, ChatOptions{})
	if err != nil {
		qo.Observer.Error("query_optimizer", "optimization call failed: %v", err)
		return task, nil
	}

	optimized := strings.TrimSpace(result.Text)
	if optimized == "" {
		return task, nil
	}

	qo.Observer.Event("query_optimizer.optimized", map[string]string{
		"original_length":  fmt.Sprintf("%d", len(task)),
		"optimized_length": fmt.Sprintf("%d", len(optimized)),
	})

	return optimized, nil
}

func (qo *QueryOptimizer) needsOptimization(task string, contextLength int) bool {
	if qo.Config.MaxOptimizeLen == 0 {
		return true
	}
	if contextLength > qo.Config.MaxOptimizeLen {
		return true
	}

	specificKeywords := []string{
		"extract", "parse", "find all", "identify",
		"list the", "count the", "sum", "finalize",
	}
	taskLower := strings.ToLower(task)
	for _, kw := range specificKeywords {
		if strings.Contains(taskLower, kw) {
			return false
		}
	}

	return true
}

func (qo *QueryOptimizer) buildPrompt(task string, contextLength int) string {
	return fmt.Sprintf(
		"Please optimize the following task for a recursive document-processing runtime.\n\n"+
			"Original task: %s\n\n"+
			"The target document has %d total characters and is NOT shown to you.\n\n"+
			"Provide an optimized version of this task that:\n"+
			"1. Is specific and actionable\n"+
			"2. Breaks down complex questions into clear sub-questions\n"+
			"3. Specifies what format the final answer should be in\n"+
			"4. Names any relevant constraints\n\n"+
			"Return ONLY the optimized task text, nothing else.",
		task, contextLength,
	)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

const queryOptimizerSystemPrompt = `You are a task optimization assistant for a recursive document-processing runtime.
Your job is to take raw, potentially vague tasks and rewrite them to be more specific and actionable.

The runtime processes large documents by:
1. Parsing them into a structured document (text, markdown, or csv)
2. Slicing, searching, and projecting over that structure one small action at a time
3. Making recursive sub-calls for complex analysis
4. Finalizing a single answer once enough information has been gathered

Your optimized tasks should be clear, specific, and structured for this processing pattern.

Rules:
- Return ONLY the optimized task text
- Do not invent facts about the document's contents
- Keep the original intent; only sharpen its phrasing`
