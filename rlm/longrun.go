package rlm

import "context"

// LongRunContext is the per-iteration context handed to generateCandidates
// and onAccepted, per spec §4.8.
type LongRunContext struct {
	Iteration       int
	State           interface{}
	Baseline        *MetricSnapshot
	BaselineScore   float64
	Rounds          []RoundResult
	AcceptedHistory []CandidateResult
}

// CandidateGenerator produces the next round's candidates given the
// current context. An empty return stops the loop.
type CandidateGenerator func(ctx context.Context, lrCtx LongRunContext) ([]interface{}, error)

// OnAccepted optionally folds an accepted candidate's result into state.
type OnAccepted func(state interface{}, result CandidateResult) interface{}

// EvaluatorFactory builds the Evaluator for one round, closing over that
// round's iteration and state so symbol-backed metrics can report
// {candidate, iteration, state, metricKey, task} per spec §4.9.
type EvaluatorFactory func(iteration int, state interface{}) Evaluator

// LongRunLoop iterates candidate-generation/evaluation rounds with
// baseline updates, per spec §4.8.
type LongRunLoop struct {
	Policy                 Policy
	EvaluateFactory        EvaluatorFactory
	Generate               CandidateGenerator
	OnAccept               OnAccepted
	MaxIterations          int
	StopWhenNoAccept       bool
	UpdateBaselineOnAccept bool
}

// LongRunResult is what a completed Long-Run Loop returns.
type LongRunResult struct {
	Rounds              []RoundResult
	AcceptedHistory     []CandidateResult
	FinalBaseline       *MetricSnapshot
	FinalBaselineScore  float64
	FinalState          interface{}
}

// Run iterates 0..MaxIterations-1, per spec §4.8's step list.
func (l *LongRunLoop) Run(ctx context.Context, initialState interface{}, baseline *MetricSnapshot, baselineScore float64) (*LongRunResult, error) {
	state := initialState
	var rounds []RoundResult
	var accepted []CandidateResult

	for iteration := 0; iteration < l.MaxIterations; iteration++ {
		lrCtx := LongRunContext{
			Iteration:       iteration,
			State:           state,
			Baseline:        baseline,
			BaselineScore:   baselineScore,
			Rounds:          rounds,
			AcceptedHistory: accepted,
		}

		candidates, err := l.Generate(ctx, lrCtx)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			break
		}

		evaluator := l.EvaluateFactory(iteration, state)
		round := RunImprovementRound(ctx, baseline, baselineScore, l.Policy, candidates, evaluator, l.UpdateBaselineOnAccept)
		rounds = append(rounds, *round)

		for _, r := range round.Results {
			if r.Accepted {
				accepted = append(accepted, r)
			}
		}

		if round.BestAccepted != nil {
			baseline = round.BestAccepted.Snapshot
			baselineScore = round.BestAccepted.Score
			if l.OnAccept != nil {
				state = l.OnAccept(state, *round.BestAccepted)
			}
		} else if l.StopWhenNoAccept {
			break
		}
	}

	return &LongRunResult{
		Rounds:             rounds,
		AcceptedHistory:    accepted,
		FinalBaseline:      baseline,
		FinalBaselineScore: baselineScore,
		FinalState:         state,
	}, nil
}
