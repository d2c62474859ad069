package rlm

import (
	"context"
	"math"
)

// MetricSnapshot is the evaluator output scored against a Policy, per
// spec §3: metrics keyed by name, optional pass/fail gates, optional meta.
type MetricSnapshot struct {
	Metrics map[string]float64
	Gates   map[string]bool
	Meta    interface{}
}

// Policy bundles the objectives and constraints one Improvement Loop round
// scores candidates against, per spec §4.7.
type Policy struct {
	Objectives    []Objective
	Constraints   []Constraint
	MinScoreDelta float64
}

// Evaluator runs a candidate and returns its metric snapshot. A non-nil
// error is treated as an evaluation failure, not a fatal error.
type Evaluator func(ctx context.Context, candidate interface{}) (*MetricSnapshot, error)

// CandidateResult is one candidate's verdict from an Improvement Loop
// round.
type CandidateResult struct {
	Candidate  interface{}
	Snapshot   *MetricSnapshot
	Score      float64
	ScoreDelta float64
	Accepted   bool
	Reasons    []string
	Error      error
}

// RoundResult is the outcome of one Improvement Loop round.
type RoundResult struct {
	Results      []CandidateResult
	BestAccepted *CandidateResult
}

// ScoreSnapshot computes Σ_i (direction_i ? +value_i : -value_i) · weight_i
// over a snapshot's metrics for the given objectives, per spec §3's
// invariant. Missing metrics contribute zero (validity is checked
// separately).
func ScoreSnapshot(snapshot *MetricSnapshot, objectives []Objective) float64 {
	var score float64
	for _, obj := range objectives {
		v, ok := snapshot.Metrics[obj.Key]
		if !ok {
			continue
		}
		weight := obj.Weight
		if weight == 0 {
			weight = 1
		}
		if obj.Direction == "minimize" {
			score -= v * weight
		} else {
			score += v * weight
		}
	}
	return score
}

// RunImprovementRound evaluates candidates in order against baseline and
// policy, per spec §4.7.
func RunImprovementRound(
	ctx context.Context,
	baseline *MetricSnapshot,
	baselineScore float64,
	policy Policy,
	candidates []interface{},
	evaluate Evaluator,
	updateBaselineOnAccept bool,
) *RoundResult {
	results := make([]CandidateResult, 0, len(candidates))
	var best *CandidateResult

	currentBaseline := baseline
	currentBaselineScore := baselineScore

	for _, candidate := range candidates {
		result := evaluateCandidate(ctx, candidate, currentBaseline, currentBaselineScore, policy, evaluate)
		results = append(results, result)

		if result.Accepted {
			if best == nil || result.Score > best.Score {
				captured := result
				best = &captured
			}
			if updateBaselineOnAccept {
				currentBaseline = result.Snapshot
				currentBaselineScore = result.Score
			}
		}
	}

	return &RoundResult{Results: results, BestAccepted: best}
}

func evaluateCandidate(
	ctx context.Context,
	candidate interface{},
	baseline *MetricSnapshot,
	baselineScore float64,
	policy Policy,
	evaluate Evaluator,
) CandidateResult {
	snapshot, err := evaluate(ctx, candidate)
	if err != nil {
		return CandidateResult{Candidate: candidate, Reasons: []string{"evaluation_error"}, Error: err}
	}

	var reasons []string
	invalid := false

	for _, obj := range policy.Objectives {
		v, ok := snapshot.Metrics[obj.Key]
		if !ok {
			reasons = append(reasons, "metric_missing:"+obj.Key)
			invalid = true
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			reasons = append(reasons, "invalid_metric:"+obj.Key)
			invalid = true
		}
	}

	for k, v := range snapshot.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			already := false
			for _, r := range reasons {
				if r == "invalid_metric:"+k {
					already = true
					break
				}
			}
			if !already {
				reasons = append(reasons, "invalid_metric:"+k)
				invalid = true
			}
		}
	}

	for _, c := range policy.Constraints {
		metricKey := c.Key
		v, ok := snapshot.Metrics[metricKey]
		if !ok {
			reasons = append(reasons, "metric_missing:"+metricKey)
			invalid = true
			continue
		}

		target, ok := constraintTarget(c, v, baseline)
		if !ok {
			reasons = append(reasons, "invalid_constraint_source:"+c.Key)
			invalid = true
			continue
		}

		if !compare(target, c.Comparator, c.Value) {
			reasons = append(reasons, "constraint_failed:"+c.Key)
		}
	}

	for name, ok := range snapshot.Gates {
		if !ok {
			reasons = append(reasons, "gate_failed:"+name)
		}
	}

	if invalid {
		reasons = append([]string{"invalid_snapshot"}, reasons...)
	}

	result := CandidateResult{Candidate: candidate, Snapshot: snapshot}

	if invalid {
		result.Reasons = reasons
		return result
	}

	score := ScoreSnapshot(snapshot, policy.Objectives)
	scoreDelta := score - baselineScore
	result.Score = score
	result.ScoreDelta = scoreDelta

	minDelta := policy.MinScoreDelta
	if scoreDelta < minDelta {
		reasons = append(reasons, "score_delta_too_small")
	}

	result.Reasons = reasons
	result.Accepted = len(reasons) == 0
	return result
}

// constraintTarget derives the value a Constraint's comparator is tested
// against, per spec §4.7's `source` table.
func constraintTarget(c Constraint, value float64, baseline *MetricSnapshot) (float64, bool) {
	source := c.Source
	if source == "" {
		source = SourceAbsolute
	}

	switch source {
	case SourceAbsolute:
		return value, true
	case SourceDelta:
		if baseline == nil {
			return 0, false
		}
		base, ok := baseline.Metrics[c.Key]
		if !ok {
			return 0, false
		}
		return value - base, true
	case SourceRatio:
		if baseline == nil {
			return 0, false
		}
		base, ok := baseline.Metrics[c.Key]
		if !ok || base == 0 {
			return 0, false
		}
		return value / base, true
	case SourceDeltaRatio:
		if baseline == nil {
			return 0, false
		}
		base, ok := baseline.Metrics[c.Key]
		if !ok || base == 0 {
			return 0, false
		}
		return (value - base) / base, true
	default:
		return 0, false
	}
}

func compare(left float64, comparator string, right float64) bool {
	switch comparator {
	case "lt":
		return left < right
	case "lte":
		return left <= right
	case "gt":
		return left > right
	case "gte":
		return left >= right
	case "eq":
		return left == right
	default:
		return false
	}
}
