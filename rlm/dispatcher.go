package rlm

import (
	"context"
	"fmt"
)

// SubRLMDispatcher spawns cached child-RLM invocations with budget
// derivation, per spec §4.5. It is the glue between sub_map (or any other
// recursion-triggering action) and a fresh RootLoop run.
type SubRLMDispatcher struct {
	Loop *RootLoop

	// Observer receives a sub_call span per dispatch, when set. A nil
	// Observer is a valid no-op.
	Observer *Observer
}

// NewSubRLMDispatcher builds a dispatcher bound to the RootLoop that runs
// every spawned child.
func NewSubRLMDispatcher(loop *RootLoop) *SubRLMDispatcher {
	return &SubRLMDispatcher{Loop: loop}
}

// Dispatch implements the SubCaller contract consumed by the
// ActionInterpreter's sub_map handler.
func (d *SubRLMDispatcher) Dispatch(ctx context.Context, env *Environment, subPrompt string) (string, bool, error) {
	return d.Call(ctx, env, subPrompt, "", nil)
}

// Call runs the full Sub-RLM Dispatcher protocol: fingerprint, cache
// lookup, depth/budget checks, child spawn, cache write.
func (d *SubRLMDispatcher) Call(ctx context.Context, env *Environment, subPrompt, query string, budgetOverride *Budget) (string, bool, error) {
	if d.Observer != nil {
		spanCtx := d.Observer.StartSpan("sub_call", map[string]string{
			"promptId": env.PromptID,
			"depth":    fmt.Sprintf("%d", env.Depth),
		})
		defer d.Observer.EndSpan(spanCtx)
	}

	fingerprint, err := SubCallFingerprint(env.PromptID, query, subPrompt, budgetOverride)
	if err != nil {
		return "", false, fmt.Errorf("sub-call fingerprint: %w", err)
	}

	if cached, ok := env.Cache.Get(fingerprint); ok {
		env.Trace.Append(TraceEvent{
			Kind:       TraceSubCall,
			Cached:     true,
			ResultMeta: preview(cached),
		})
		return cached, true, nil
	}

	// These budget checks are against THIS environment's own budget; a
	// breach here is fatal for this environment and must propagate
	// unwrapped so the caller recognizes it as a BudgetExceededError.
	if err := env.Budget.EnsureNextDepth(); err != nil {
		return "", false, err
	}
	if err := env.Budget.ConsumeSubCall(); err != nil {
		return "", false, err
	}

	child := env.Child(subPrompt, budgetOverride)

	// A failure inside the child's own turn cycle — including a budget
	// breach on the child's derived budget — is a recoverable Sub-RLM
	// error at this level, per spec §7.
	result, err := d.Loop.Run(ctx, child)
	if err != nil {
		return "", false, NewSubRLMError(err)
	}

	env.Cache.Set(fingerprint, result.Final)
	env.Trace.Append(TraceEvent{
		Kind:       TraceSubCall,
		Cached:     false,
		ResultMeta: preview(result.Final),
	})

	return result.Final, false, nil
}
