package rlm

import (
	"context"
	"regexp"
	"strconv"
	"time"
)

// earlyStopHints is the privileged scratch-key order consulted by the
// early-stop heuristic, per spec §3/§4.6.
var earlyStopHints = []string{"answer", "total", "picked", "joined", "result"}

// RootLoopConfig tunes the optional recovery/early-stop behaviors layered
// on top of the base turn cycle, per spec §4.6.
type RootLoopConfig struct {
	MaxConsecutiveErrorsForEarlyStop int
	EnableEarlyStopHeuristic         bool
	EnableHeuristicPostprocess       bool
	RequirePromptReadBeforeFinalize  bool
}

// DefaultRootLoopConfig mirrors spec §4.6's stated defaults.
// RequirePromptReadBeforeFinalize defaults to false: spec §8's
// "Secret-safe prompt" scenario finalizes from a scratch value with zero
// prompt reads, so the guard is opt-in per environment/config rather than
// on by default.
func DefaultRootLoopConfig() RootLoopConfig {
	return RootLoopConfig{
		MaxConsecutiveErrorsForEarlyStop: 2,
		EnableEarlyStopHeuristic:         true,
		EnableHeuristicPostprocess:       false,
		RequirePromptReadBeforeFinalize:  false,
	}
}

// RootLoopResult is what a root (or sub-) call returns once final is set.
type RootLoopResult struct {
	Final  string
	Trace  []TraceEvent
	Budget *Budget
}

// RootLoop is the controller over the LM<->environment turn cycle, per
// spec §4.6: consume a step, call the LMProvider, coerce the response into
// an Action, execute it, and re-inject the observation as the next turn.
type RootLoop struct {
	Provider    LMProvider
	Interpreter *ActionInterpreter
	Config      RootLoopConfig
	Task        string

	// Observer receives a span per turn and an llm_call event per provider
	// round-trip, per spec §8's tracing requirement. A nil Observer is a
	// valid no-op.
	Observer *Observer
}

// NewRootLoop builds a loop over the given provider and interpreter with
// default configuration.
func NewRootLoop(provider LMProvider, interpreter *ActionInterpreter) *RootLoop {
	return &RootLoop{
		Provider:    provider,
		Interpreter: interpreter,
		Config:      DefaultRootLoopConfig(),
	}
}

// Run drives env through the turn cycle until env.Final is set or a fatal
// error (a BudgetExceededError or an LMProvider failure) propagates.
func (l *RootLoop) Run(ctx context.Context, env *Environment) (*RootLoopResult, error) {
	env.RequirePromptReadBeforeFinalize = l.Config.RequirePromptReadBeforeFinalize

	init, err := initTurn(env, l.Task, earlyStopHints)
	if err != nil {
		return nil, err
	}

	history := []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: init},
	}

	consecutiveErrors := 0

	for step := 1; ; step++ {
		if err := env.Budget.ConsumeStep(); err != nil {
			return nil, err
		}

		stepCtx := ctx
		if l.Observer != nil {
			stepCtx = l.Observer.StartSpan("root_step", map[string]string{
				"step":     strconv.Itoa(step),
				"promptId": env.PromptID,
				"depth":    strconv.Itoa(env.Depth),
			})
		}

		callStart := time.Now()
		result, err := l.Provider.Complete(ctx, history, ChatOptions{
			ResponseFormat: &ResponseFormat{Type: "json_schema", JSONSchema: ActionResponseSchema()},
		})
		if l.Observer != nil {
			tokensUsed := 0
			if result != nil && result.Usage != nil {
				tokensUsed = result.Usage.TotalTokens
			}
			l.Observer.LLMCall("", len(history), tokensUsed, time.Since(callStart), err)
		}
		if err != nil {
			if l.Observer != nil {
				l.Observer.EndSpan(stepCtx)
			}
			return nil, err
		}
		history = append(history, Message{Role: RoleAssistant, Content: result.Text})

		endStep := func() {
			if l.Observer != nil {
				l.Observer.EndSpan(stepCtx)
			}
		}

		action, coerceErr := CoerceAction(result.Text)
		if coerceErr != nil {
			consecutiveErrors++
			turn, err := errorTurn(env, coerceErr.Error(), nil)
			if err != nil {
				endStep()
				return nil, err
			}
			history = append(history, Message{Role: RoleUser, Content: turn})

			if consecutiveErrors >= l.Config.MaxConsecutiveErrorsForEarlyStop {
				if l.tryHeuristicFallback(env) {
					endStep()
					break
				}
			}
			endStep()
			continue
		}

		stdout, execErr := l.Interpreter.Exec(ctx, env, action, step)
		if execErr != nil {
			if isBudgetExceeded(execErr) {
				endStep()
				return nil, execErr
			}
			consecutiveErrors++
			turn, err := errorTurn(env, execErr.Error(), requiredHint(action.Op))
			if err != nil {
				endStep()
				return nil, err
			}
			history = append(history, Message{Role: RoleUser, Content: turn})

			if consecutiveErrors >= l.Config.MaxConsecutiveErrorsForEarlyStop {
				if l.tryHeuristicFallback(env) {
					endStep()
					break
				}
			}
			endStep()
			continue
		}

		env.Trace.Append(TraceEvent{
			Kind:        TraceReplExec,
			Step:        step,
			Op:          action.Op,
			Stdout:      preview(stdout),
			ScratchKeys: env.ScratchKeys(),
		})
		env.Trace.Append(TraceEvent{
			Kind:          TraceRootStep,
			Step:          step,
			PromptPreview: preview(env.Prompt),
			Stdout:        preview(stdout),
			BudgetUsed:    budgetSnapshot(env.Budget),
		})

		consecutiveErrors = 0

		turn, err := stdoutTurn(env, stdout)
		if err != nil {
			endStep()
			return nil, err
		}
		history = append(history, Message{Role: RoleUser, Content: turn})

		if l.Config.EnableEarlyStopHeuristic && !env.HasFinal {
			l.tryEarlyStop(env)
		}

		endStep()
		if env.HasFinal {
			break
		}
	}

	if l.Config.EnableHeuristicPostprocess {
		l.applyHeuristicPostprocess(env)
	}

	return &RootLoopResult{Final: env.Final, Trace: env.Trace.Events(), Budget: env.Budget}, nil
}

// tryEarlyStop adopts the first non-empty privileged scratch hint as final
// once at least one prompt read has occurred (when required).
func (l *RootLoop) tryEarlyStop(env *Environment) {
	if env.RequirePromptReadBeforeFinalize && env.Budget.PromptReadCharsUsed == 0 {
		return
	}
	for _, key := range earlyStopHints {
		v, ok := env.Scratch[key]
		if !ok {
			continue
		}
		s := stringifyValue(v)
		if s != "" {
			env.Final = s
			env.HasFinal = true
			return
		}
	}
}

// tryHeuristicFallback is invoked once consecutiveErrors crosses the
// configured threshold; it reuses the early-stop hint scan as a last
// resort so a misbehaving LM doesn't spin forever and, when
// EnableHeuristicPostprocess is on (the hybrid profile), also tries the
// task-pattern post-processor on the raw prompt.
func (l *RootLoop) tryHeuristicFallback(env *Environment) bool {
	l.tryEarlyStop(env)
	if !env.HasFinal && l.Config.EnableHeuristicPostprocess {
		l.applyHeuristicPostprocess(env)
	}
	return env.HasFinal
}

var (
	tokenPattern = regexp.MustCompile(`(?i)token|値`)
	sumPattern   = regexp.MustCompile(`(?i)合計|sum`)
	wordPattern  = regexp.MustCompile(`(?i)単語.*一つ|one word`)
	tokenValueRe = regexp.MustCompile(`TOKEN=(\S+)`)
)

// applyHeuristicPostprocess re-derives an answer directly from the raw
// prompt for a handful of task shapes, per spec §4.6. It only overrides
// env.Final when a match is found.
func (l *RootLoop) applyHeuristicPostprocess(env *Environment) {
	switch {
	case tokenPattern.MatchString(l.Task):
		if m := tokenValueRe.FindStringSubmatch(env.Prompt); m != nil {
			env.Final = m[1]
			env.HasFinal = true
		}
	case sumPattern.MatchString(l.Task):
		lines := splitLines(env.Prompt)
		if doc, err := parseCSV(lines, ","); err == nil && len(doc.Headers) > 0 {
			if sum, err := doc.SumColumn(doc.Headers[0]); err == nil {
				env.Final = stringifyValue(sum)
				env.HasFinal = true
			}
		}
	case wordPattern.MatchString(l.Task):
		words := wordSplitter.Split(env.Prompt, -1)
		filtered := words[:0]
		for _, w := range words {
			if w != "" {
				filtered = append(filtered, w)
			}
		}
		if len(filtered) > 1 {
			env.Final = filtered[1]
			env.HasFinal = true
		}
	}
}

func isBudgetExceeded(err error) bool {
	_, ok := err.(*BudgetExceededError)
	return ok
}
