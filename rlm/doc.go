// Package rlm implements a Recursive Language Model (RLM) runtime: a
// controller that drives a language model through a small JSON action
// vocabulary to solve document-oriented tasks while keeping the document
// body out of the model's chat context.
//
// # Basic usage
//
// Build an Environment over a document, wire a LMProvider, and run a
// RootLoop to completion:
//
//	env := rlm.NewEnvironment(document, rlm.DefaultBudget())
//	interpreter := rlm.NewActionInterpreter(nil)
//	loop := rlm.NewRootLoop(provider, interpreter)
//
//	result, err := loop.Run(ctx, env)
//	// result.Final holds the answer; result.Trace the step-by-step record.
//
// # Recursive calls
//
// An action may spawn a child RLM with a narrower sub-prompt via the
// sub_map action, subject to the parent's budget. Wire a SubRLMDispatcher
// into the interpreter to enable this:
//
//	dispatcher := rlm.NewSubRLMDispatcher(loop)
//	interpreter.SubCaller = dispatcher.Dispatch
//
// # Planner-driven execution
//
// PlannedExecutor turns a free-form user request into a Plan (single-shot
// or long-run) and dispatches to the RootLoop or LongRunLoop accordingly:
//
//	executor := &rlm.PlannedExecutor{
//	    Planner:     rlm.NewPlanner(provider),
//	    Provider:    provider,
//	    Interpreter: interpreter,
//	}
//	result, err := executor.Execute(ctx, env, "summarize the quarterly report", rlm.RunOptions{})
//
// # Error handling
//
// BudgetExceededError is fatal for the containing environment. ActionError
// and SubRLMError are recoverable and surfaced to the LM as an error turn
// by the RootLoop itself; callers of RootLoop.Run only ever see a
// propagated error for a budget breach or an LMProvider failure.
//
//	var budgetErr *rlm.BudgetExceededError
//	if errors.As(err, &budgetErr) {
//	    fmt.Printf("hit %s (limit %d)\n", budgetErr.Kind, budgetErr.Limit)
//	}
package rlm
