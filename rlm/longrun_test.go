package rlm

import (
	"context"
	"errors"
	"testing"
)

func TestLongRunLoopStopsWhenGeneratorReturnsEmpty(t *testing.T) {
	calls := 0
	loop := &LongRunLoop{
		Policy:        Policy{Objectives: []Objective{{Key: "quality", Direction: "maximize"}}},
		MaxIterations: 5,
		Generate: func(ctx context.Context, lrCtx LongRunContext) ([]interface{}, error) {
			calls++
			if calls == 2 {
				return nil, nil
			}
			return []interface{}{"candidate"}, nil
		},
		EvaluateFactory: func(iteration int, state interface{}) Evaluator {
			return func(ctx context.Context, candidate interface{}) (*MetricSnapshot, error) {
				return &MetricSnapshot{Metrics: map[string]float64{"quality": 1}}, nil
			}
		},
	}

	result, err := loop.Run(context.Background(), nil, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected the loop to stop after the empty generation, generator called %d times", calls)
	}
	if len(result.Rounds) != 1 {
		t.Fatalf("expected exactly one completed round, got %d", len(result.Rounds))
	}
}

func TestLongRunLoopGeneratorErrorPropagates(t *testing.T) {
	boom := errors.New("generator exploded")
	loop := &LongRunLoop{
		Policy:        Policy{Objectives: []Objective{{Key: "quality", Direction: "maximize"}}},
		MaxIterations: 3,
		Generate: func(ctx context.Context, lrCtx LongRunContext) ([]interface{}, error) {
			return nil, boom
		},
		EvaluateFactory: func(iteration int, state interface{}) Evaluator {
			return func(ctx context.Context, candidate interface{}) (*MetricSnapshot, error) {
				return &MetricSnapshot{}, nil
			}
		},
	}

	_, err := loop.Run(context.Background(), nil, nil, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the generator's error to propagate, got %v", err)
	}
}

func TestLongRunLoopEvaluatorFactoryReceivesCurrentIterationAndState(t *testing.T) {
	var seenIterations []int
	var seenStates []interface{}

	loop := &LongRunLoop{
		Policy:        Policy{Objectives: []Objective{{Key: "quality", Direction: "maximize"}}},
		MaxIterations: 3,
		Generate: func(ctx context.Context, lrCtx LongRunContext) ([]interface{}, error) {
			return []interface{}{"candidate"}, nil
		},
		OnAccept: func(state interface{}, result CandidateResult) interface{} {
			count, _ := state.(int)
			return count + 1
		},
		EvaluateFactory: func(iteration int, state interface{}) Evaluator {
			seenIterations = append(seenIterations, iteration)
			seenStates = append(seenStates, state)
			return func(ctx context.Context, candidate interface{}) (*MetricSnapshot, error) {
				return &MetricSnapshot{Metrics: map[string]float64{"quality": float64(iteration + 1)}}, nil
			}
		},
	}

	result, err := loop.Run(context.Background(), 0, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seenIterations) != 3 || seenIterations[0] != 0 || seenIterations[1] != 1 || seenIterations[2] != 2 {
		t.Fatalf("expected iterations [0 1 2], got %v", seenIterations)
	}
	if seenStates[0] != 0 || seenStates[1] != 1 || seenStates[2] != 2 {
		t.Fatalf("expected state to fold via OnAccept across rounds, got %v", seenStates)
	}
	if result.FinalState != 3 {
		t.Fatalf("expected final state 3, got %v", result.FinalState)
	}
}

func TestLongRunLoopStopWhenNoAccept(t *testing.T) {
	calls := 0
	loop := &LongRunLoop{
		Policy:           Policy{Objectives: []Objective{{Key: "quality", Direction: "maximize"}}, MinScoreDelta: 1000},
		MaxIterations:    5,
		StopWhenNoAccept: true,
		Generate: func(ctx context.Context, lrCtx LongRunContext) ([]interface{}, error) {
			calls++
			return []interface{}{"candidate"}, nil
		},
		EvaluateFactory: func(iteration int, state interface{}) Evaluator {
			return func(ctx context.Context, candidate interface{}) (*MetricSnapshot, error) {
				return &MetricSnapshot{Metrics: map[string]float64{"quality": 1}}, nil
			}
		},
	}

	_, err := loop.Run(context.Background(), nil, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the loop to stop after the first no-accept round, generator called %d times", calls)
	}
}

func TestLongRunLoopUpdatesBaselineOnAccept(t *testing.T) {
	loop := &LongRunLoop{
		Policy:        Policy{Objectives: []Objective{{Key: "quality", Direction: "maximize"}}},
		MaxIterations: 2,
		Generate: func(ctx context.Context, lrCtx LongRunContext) ([]interface{}, error) {
			return []interface{}{lrCtx.Iteration}, nil
		},
		EvaluateFactory: func(iteration int, state interface{}) Evaluator {
			return func(ctx context.Context, candidate interface{}) (*MetricSnapshot, error) {
				n := candidate.(int)
				return &MetricSnapshot{Metrics: map[string]float64{"quality": float64(10 * (n + 1))}}, nil
			}
		},
	}

	result, err := loop.Run(context.Background(), nil, nil, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.FinalBaselineScore != 20 {
		t.Fatalf("expected final baseline score to reflect the last accepted round (20), got %v", result.FinalBaselineScore)
	}
	if len(result.AcceptedHistory) != 2 {
		t.Fatalf("expected 2 accepted candidates across 2 iterations, got %d", len(result.AcceptedHistory))
	}
}
