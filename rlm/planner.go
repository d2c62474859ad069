package rlm

import (
	"context"
	"encoding/json"
	"fmt"
)

// PlanMode selects whether a Plan drives a single Root Loop run or an
// iterated Long-Run Loop.
type PlanMode string

const (
	PlanSingle   PlanMode = "single"
	PlanLongRun  PlanMode = "long_run"
	ProfilePure  string   = "pure"
	ProfileHybrid string  = "hybrid"
)

// Objective is one scored dimension of a long-run plan, per spec §3.
type Objective struct {
	Key       string  `json:"key"`
	Direction string  `json:"direction"` // "minimize" | "maximize"
	Symbol    string  `json:"symbol"`
	Weight    float64 `json:"weight,omitempty"`
}

// ConstraintSource names how a Constraint's target value is derived from
// the baseline, per spec §4.7.
type ConstraintSource string

const (
	SourceAbsolute   ConstraintSource = "absolute"
	SourceDelta      ConstraintSource = "delta"
	SourceRatio      ConstraintSource = "ratio"
	SourceDeltaRatio ConstraintSource = "delta_ratio"
)

// Constraint is one pass/fail gate evaluated against a candidate snapshot.
type Constraint struct {
	Key        string           `json:"key"`
	Comparator string           `json:"comparator"` // lt|lte|gt|gte|eq
	Value      float64          `json:"value"`
	Symbol     string           `json:"symbol,omitempty"`
	Source     ConstraintSource `json:"source,omitempty"`
}

// LongRunSpec configures the Long-Run Loop embedded in a Plan.
type LongRunSpec struct {
	Objectives       []Objective  `json:"objectives"`
	Constraints      []Constraint `json:"constraints,omitempty"`
	MaxIterations    int          `json:"maxIterations,omitempty"`
	StopWhenNoAccept bool         `json:"stopWhenNoAccept,omitempty"`
	MinScoreDelta    float64      `json:"minScoreDelta,omitempty"`
}

// Plan is the structured object a Planner call produces, per spec §3.
type Plan struct {
	Mode            PlanMode               `json:"mode"`
	Task            string                 `json:"task"`
	Profile         string                 `json:"profile,omitempty"`
	Symbols         []string               `json:"symbols,omitempty"`
	BudgetOverrides map[string]interface{} `json:"budgetOverrides,omitempty"`
	LongRun         *LongRunSpec           `json:"longRun,omitempty"`
}

// defaultPlan returns the fallback plan for a malformed response: single
// mode, task set to the raw user input, per spec §4.9 / §9.
func defaultPlan(userInput string) *Plan {
	return &Plan{Mode: PlanSingle, Task: userInput}
}

const plannerSystemPrompt = `You convert a user request into a structured execution plan.
Respond with exactly one JSON object shaped as:
  {"mode":"single"|"long_run","task":"...","profile":"pure"|"hybrid",
   "symbols":["..."],"budgetOverrides":{...},
   "longRun":{"objectives":[{"key":"...","direction":"minimize"|"maximize","symbol":"...","weight":1}],
              "constraints":[{"key":"...","comparator":"lt|lte|gt|gte|eq","value":0,"symbol":"...","source":"absolute|delta|ratio|delta_ratio"}],
              "maxIterations":5,"stopWhenNoAccept":true,"minScoreDelta":0}}
Only set "longRun" when mode is "long_run". Omit fields you have no opinion on.`

// Planner makes one LM call that turns a user request into a Plan, per
// spec §4.9.
type Planner struct {
	Provider LMProvider
}

// NewPlanner builds a Planner over the given provider.
func NewPlanner(provider LMProvider) *Planner {
	return &Planner{Provider: provider}
}

// Plan asks the LM for a structured plan, coercing the response
// field-by-field. Any parse/validation failure yields the default
// single-mode plan rather than propagating an error, per spec §4.9.
func (p *Planner) Plan(ctx context.Context, userInput string) *Plan {
	messages := []Message{
		{Role: RoleSystem, Content: plannerSystemPrompt},
		{Role: RoleUser, Content: userInput},
	}

	result, err := p.Provider.Complete(ctx, messages, ChatOptions{
		ResponseFormat: &ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return defaultPlan(userInput)
	}

	objText, err := ExtractFirstJSONObject(result.Text)
	if err != nil {
		return defaultPlan(userInput)
	}

	var raw struct {
		Mode            string                 `json:"mode"`
		Task            string                 `json:"task"`
		Profile         string                 `json:"profile"`
		Symbols         []string               `json:"symbols"`
		BudgetOverrides map[string]interface{} `json:"budgetOverrides"`
		LongRun         *LongRunSpec           `json:"longRun"`
	}
	if err := json.Unmarshal([]byte(objText), &raw); err != nil {
		return defaultPlan(userInput)
	}

	plan := &Plan{
		Task:            raw.Task,
		Profile:         raw.Profile,
		Symbols:         raw.Symbols,
		BudgetOverrides: raw.BudgetOverrides,
		LongRun:         raw.LongRun,
	}
	if plan.Task == "" {
		plan.Task = userInput
	}

	switch raw.Mode {
	case string(PlanLongRun):
		plan.Mode = PlanLongRun
	default:
		plan.Mode = PlanSingle
	}

	// The only automatic promotion: mode==long_run with no longRun spec
	// degrades to single, per spec §11 Open Questions.
	if plan.Mode == PlanLongRun && plan.LongRun == nil {
		plan.Mode = PlanSingle
	}

	return plan
}

// validatePlanShape is a defensive check used by tests and callers that
// want an explicit error instead of the silent default-plan fallback.
func validatePlanShape(plan *Plan) error {
	if plan.Mode != PlanSingle && plan.Mode != PlanLongRun {
		return fmt.Errorf("invalid plan mode: %s", plan.Mode)
	}
	if plan.Mode == PlanLongRun && plan.LongRun == nil {
		return fmt.Errorf("long_run plan missing longRun spec")
	}
	return nil
}
