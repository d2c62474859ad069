package rlm

import "time"

// Budget holds the step/subcall/depth/char/time counters that govern when a
// Root Loop must stop. Counters are plain fields and are monotone
// non-decreasing: BudgetExceededError is thrown only on breach, never
// swallowed internally (see spec §9, "Budget as state, not exception
// control").
type Budget struct {
	MaxSteps           int
	MaxSubCalls        int
	MaxDepth           int
	MaxPromptReadChars int
	MaxTimeMs          int

	StepsUsed           int
	SubCallsUsed        int
	Depth               int
	PromptReadCharsUsed int
	TokensUsed          int // ambient: see SPEC_FULL.md §9; nothing in this package updates it
	StartedAt           time.Time
}

// DefaultBudget returns the spec-mandated defaults: 32 steps, 32 sub-calls,
// depth 4, 200,000 prompt-read characters, 30,000ms wall clock.
func DefaultBudget() *Budget {
	return &Budget{
		MaxSteps:           32,
		MaxSubCalls:        32,
		MaxDepth:           4,
		MaxPromptReadChars: 200_000,
		MaxTimeMs:          30_000,
		StartedAt:          time.Now(),
	}
}

// checkTime is performed before any accounting step, per spec §4.1.
func (b *Budget) checkTime() error {
	if b.MaxTimeMs <= 0 {
		return nil
	}
	if time.Since(b.StartedAt) > time.Duration(b.MaxTimeMs)*time.Millisecond {
		return NewBudgetExceededError(BudgetMaxTimeMs, b.MaxTimeMs)
	}
	return nil
}

// ConsumeStep increments StepsUsed, failing fast if the root loop has
// exhausted its step budget.
func (b *Budget) ConsumeStep() error {
	if err := b.checkTime(); err != nil {
		return err
	}
	if b.StepsUsed+1 > b.MaxSteps {
		return NewBudgetExceededError(BudgetMaxSteps, b.MaxSteps)
	}
	b.StepsUsed++
	return nil
}

// ConsumeSubCall is the symmetric operation for MaxSubCalls.
func (b *Budget) ConsumeSubCall() error {
	if err := b.checkTime(); err != nil {
		return err
	}
	if b.SubCallsUsed+1 > b.MaxSubCalls {
		return NewBudgetExceededError(BudgetMaxSubCalls, b.MaxSubCalls)
	}
	b.SubCallsUsed++
	return nil
}

// EnsureNextDepth checks whether a child environment may be constructed at
// depth+1. It does not increment anything — the child's own Budget carries
// the incremented depth once constructed.
func (b *Budget) EnsureNextDepth() error {
	if err := b.checkTime(); err != nil {
		return err
	}
	if b.Depth+1 > b.MaxDepth {
		return NewBudgetExceededError(BudgetMaxDepth, b.MaxDepth)
	}
	return nil
}

// ConsumePromptChars accounts n characters of prompt reads against the
// budget. Non-positive n is a no-op.
func (b *Budget) ConsumePromptChars(n int) error {
	if n <= 0 {
		return nil
	}
	if err := b.checkTime(); err != nil {
		return err
	}
	if b.PromptReadCharsUsed+n > b.MaxPromptReadChars {
		return NewBudgetExceededError(BudgetMaxPromptReadChars, b.MaxPromptReadChars)
	}
	b.PromptReadCharsUsed += n
	return nil
}

// DeriveChild builds the budget for a sub-RLM call. maxDepth and startedAt
// are inherited from the parent (the whole root tree shares one wall clock);
// every other limit defaults to the parent's own limit and may be
// overridden by override (zero or negative fields in override keep the
// parent's value).
func (b *Budget) DeriveChild(override *Budget) *Budget {
	child := &Budget{
		MaxSteps:           b.MaxSteps,
		MaxSubCalls:        b.MaxSubCalls,
		MaxDepth:           b.MaxDepth,
		MaxPromptReadChars: b.MaxPromptReadChars,
		MaxTimeMs:          b.MaxTimeMs,
		Depth:              b.Depth + 1,
		StartedAt:          b.StartedAt,
	}
	if override != nil {
		if override.MaxSteps > 0 {
			child.MaxSteps = override.MaxSteps
		}
		if override.MaxSubCalls > 0 {
			child.MaxSubCalls = override.MaxSubCalls
		}
		if override.MaxPromptReadChars > 0 {
			child.MaxPromptReadChars = override.MaxPromptReadChars
		}
		if override.MaxTimeMs > 0 {
			child.MaxTimeMs = override.MaxTimeMs
		}
	}
	return child
}
