package rlm

import "context"

// RunOptions are the caller-supplied base options a PlannedExecutor merges
// with profile defaults and plan-level overrides before running a single
// Root Loop, per spec §4.9. A zero Config keeps the profile's defaults; a
// non-zero Config replaces them, and the hybrid profile still switches on
// EnableHeuristicPostprocess.
type RunOptions struct {
	Budget *Budget
	Config RootLoopConfig
}

// profileDefaults returns the RootLoopConfig a profile implies. "hybrid"
// turns on the task-pattern heuristic post-processor and heuristic
// fallback on repeated errors (spec §4.6/§7/§9); "pure" relies solely on
// the LM-driven action loop.
func profileDefaults(profile string) RootLoopConfig {
	cfg := DefaultRootLoopConfig()
	if profile == ProfileHybrid {
		cfg.EnableHeuristicPostprocess = true
	}
	return cfg
}

// mergeBudget shallow-merges profile -> plan -> base, keeping the last
// non-zero value for each field, per spec §4.9.
func mergeBudget(profile, plan, base *Budget) *Budget {
	result := DefaultBudget()
	for _, b := range []*Budget{profile, plan, base} {
		if b == nil {
			continue
		}
		if b.MaxSteps > 0 {
			result.MaxSteps = b.MaxSteps
		}
		if b.MaxSubCalls > 0 {
			result.MaxSubCalls = b.MaxSubCalls
		}
		if b.MaxDepth > 0 {
			result.MaxDepth = b.MaxDepth
		}
		if b.MaxPromptReadChars > 0 {
			result.MaxPromptReadChars = b.MaxPromptReadChars
		}
		if b.MaxTimeMs > 0 {
			result.MaxTimeMs = b.MaxTimeMs
		}
	}
	return result
}

func budgetFromOverrides(overrides map[string]interface{}) *Budget {
	if overrides == nil {
		return nil
	}
	b := &Budget{}
	if v, ok := overrides["maxSteps"]; ok {
		b.MaxSteps = budgetOverrideInt(v)
	}
	if v, ok := overrides["maxSubCalls"]; ok {
		b.MaxSubCalls = budgetOverrideInt(v)
	}
	if v, ok := overrides["maxDepth"]; ok {
		b.MaxDepth = budgetOverrideInt(v)
	}
	if v, ok := overrides["maxPromptReadChars"]; ok {
		b.MaxPromptReadChars = budgetOverrideInt(v)
	}
	if v, ok := overrides["maxTimeMs"]; ok {
		b.MaxTimeMs = budgetOverrideInt(v)
	}
	return b
}

func budgetOverrideInt(v interface{}) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

// SymbolEvaluator adapts an external Symbol into an Evaluator for the
// Long-Run Loop: each objective/constraint metric is read by invoking its
// named symbol with {args:{candidate, iteration, state, metricKey, task}},
// per spec §4.9.
type SymbolEvaluator struct {
	Symbols map[string]Symbol
	Task    string
}

// Evaluate builds a MetricSnapshot by invoking every objective's and
// constraint's symbol once.
func (se *SymbolEvaluator) Evaluate(plan *Plan, iteration int, state interface{}) Evaluator {
	return func(ctx context.Context, candidate interface{}) (*MetricSnapshot, error) {
		metrics := make(map[string]float64)

		readMetric := func(key, symbolName string) error {
			symbol, ok := se.Symbols[symbolName]
			if !ok {
				return NewActionError("call_symbol", "unknown symbol: "+symbolName, nil)
			}
			result, err := symbol(ctx, SymbolCall{
				Symbol: symbolName,
				Args: map[string]interface{}{
					"candidate": candidate,
					"iteration": iteration,
					"state":     state,
					"metricKey": key,
					"task":      se.Task,
				},
			})
			if err != nil {
				return err
			}
			v, ok := result.(float64)
			if !ok {
				return NewActionError("call_symbol", "metric symbol did not return a finite number: "+symbolName, nil)
			}
			metrics[key] = v
			return nil
		}

		for _, obj := range plan.LongRun.Objectives {
			if err := readMetric(obj.Key, obj.Symbol); err != nil {
				return nil, err
			}
		}
		for _, c := range plan.LongRun.Constraints {
			if c.Symbol == "" {
				continue
			}
			if _, already := metrics[c.Key]; already {
				continue
			}
			if err := readMetric(c.Key, c.Symbol); err != nil {
				return nil, err
			}
		}

		return &MetricSnapshot{Metrics: metrics}, nil
	}
}

// PlannedExecutor bridges a Planner's output into either a single Root
// Loop run or an iterated Long-Run Loop, per spec §4.9.
type PlannedExecutor struct {
	Planner     *Planner
	NewRootLoop func(provider LMProvider, interpreter *ActionInterpreter) *RootLoop
	Provider    LMProvider
	Interpreter *ActionInterpreter
	Symbols     map[string]Symbol
	Generate    CandidateGenerator

	// Observer is threaded onto every Root Loop this executor builds, so a
	// single-mode run gets root_step/llm_call spans the same as a
	// caller-constructed RootLoop would. A nil Observer is a valid no-op.
	Observer *Observer
}

// PlannedResult is the unified return shape of Execute: exactly one of
// Single or LongRun is populated, matching which loop ran.
type PlannedResult struct {
	Plan     *Plan
	Single   *RootLoopResult
	LongRun  *LongRunResult
}

// Execute plans userInput and dispatches to the Root Loop or Long-Run
// Loop, merging budget/config per spec §4.9.
func (pe *PlannedExecutor) Execute(ctx context.Context, env *Environment, userInput string, base RunOptions) (*PlannedResult, error) {
	plan := pe.Planner.Plan(ctx, userInput)

	planBudget := budgetFromOverrides(plan.BudgetOverrides)
	env.Budget = mergeBudget(nil, planBudget, base.Budget)

	cfg := profileDefaults(plan.Profile)
	if base.Config != (RootLoopConfig{}) {
		hybrid := cfg.EnableHeuristicPostprocess
		cfg = base.Config
		cfg.EnableHeuristicPostprocess = cfg.EnableHeuristicPostprocess || hybrid
	}

	switch plan.Mode {
	case PlanLongRun:
		se := &SymbolEvaluator{Symbols: pe.Symbols, Task: plan.Task}

		policy := Policy{Objectives: plan.LongRun.Objectives, Constraints: plan.LongRun.Constraints, MinScoreDelta: plan.LongRun.MinScoreDelta}
		maxIterations := plan.LongRun.MaxIterations
		if maxIterations <= 0 {
			maxIterations = 1
		}

		longRunLoop := &LongRunLoop{
			Policy: policy,
			EvaluateFactory: func(iteration int, state interface{}) Evaluator {
				return se.Evaluate(plan, iteration, state)
			},
			Generate:         pe.Generate,
			MaxIterations:    maxIterations,
			StopWhenNoAccept: plan.LongRun.StopWhenNoAccept,
		}

		result, err := longRunLoop.Run(ctx, nil, nil, 0)
		if err != nil {
			return nil, err
		}
		return &PlannedResult{Plan: plan, LongRun: result}, nil

	default:
		loop := &RootLoop{Provider: pe.Provider, Interpreter: pe.Interpreter, Config: cfg, Task: plan.Task, Observer: pe.Observer}
		result, err := loop.Run(ctx, env)
		if err != nil {
			return nil, err
		}
		return &PlannedResult{Plan: plan, Single: result}, nil
	}
}
