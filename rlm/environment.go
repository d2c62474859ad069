package rlm

import "fmt"

// Environment bundles everything one root RLM call threads through its
// turn loop and action interpreter: the prompt under evaluation, scratch
// storage, budget, trace, its own document store, and the cache it shares
// with the rest of the call tree, per spec §3.
type Environment struct {
	Prompt   string
	PromptID string
	DocID    string

	Scratch map[string]interface{}
	Budget  *Budget
	Trace   *Trace
	Cache   Cache
	Docs    DocumentStore

	Depth int

	RequirePromptReadBeforeFinalize bool

	Final    string
	HasFinal bool
}

// NewEnvironment builds a root environment over a single prompt document.
// RequirePromptReadBeforeFinalize defaults to false, matching spec §8's
// "Secret-safe prompt" scenario, which finalizes from a scratch value with
// zero prompt reads; callers that want the guard set it explicitly or run
// through a RootLoop configured with RequirePromptReadBeforeFinalize=true.
func NewEnvironment(prompt string, budget *Budget) *Environment {
	promptID := Fingerprint(prompt)
	docID := "root"
	return &Environment{
		Prompt:                          prompt,
		PromptID:                        promptID,
		DocID:                           docID,
		Scratch:                         make(map[string]interface{}),
		Budget:                          budget,
		Trace:                           NewTrace(),
		Cache:                           NewMapCache(),
		Docs:                            NewSingleDocumentStore(docID, prompt),
		RequirePromptReadBeforeFinalize: false,
	}
}

// Child builds a sub-environment for a sub-RLM call at depth+1, sharing
// this environment's Cache but deriving a fresh Budget, Trace, and
// DocumentStore scoped to subPrompt, per spec §4.5.
func (e *Environment) Child(subPrompt string, budgetOverride *Budget) *Environment {
	promptID := Fingerprint(subPrompt)
	docID := fmt.Sprintf("sub:%s", promptID)
	return &Environment{
		Prompt:                          subPrompt,
		PromptID:                        promptID,
		DocID:                           docID,
		Scratch:                         make(map[string]interface{}),
		Budget:                          e.Budget.DeriveChild(budgetOverride),
		Trace:                           NewTrace(),
		Cache:                           e.Cache,
		Docs:                            NewSingleDocumentStore(docID, subPrompt),
		Depth:                           e.Depth + 1,
		RequirePromptReadBeforeFinalize: e.RequirePromptReadBeforeFinalize,
	}
}

// ScratchKeys returns the current scratch key set, for trace previews.
func (e *Environment) ScratchKeys() []string {
	keys := make([]string, 0, len(e.Scratch))
	for k := range e.Scratch {
		keys = append(keys, k)
	}
	return keys
}

// SetScratch assigns a dotted scratch path (an optional leading "scratch."
// prefix is accepted and stripped), creating intermediate maps as needed.
// path="final" writes env.Final directly instead, per spec §4.4.
func (e *Environment) SetScratch(path string, value interface{}) error {
	if path == "final" {
		e.Final = stringifyValue(value)
		e.HasFinal = true
		return nil
	}

	segments := splitDotted(trimScratchPrefix(path))
	if len(segments) == 0 {
		return fmt.Errorf("set requires a non-empty path")
	}

	cur := e.Scratch
	for i := 0; i < len(segments)-1; i++ {
		seg := segments[i]
		next, ok := cur[seg]
		if !ok {
			m := make(map[string]interface{})
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]interface{})
		if !ok {
			m = make(map[string]interface{})
			cur[seg] = m
		}
		cur = m
	}
	cur[segments[len(segments)-1]] = value
	return nil
}

// ResolveScratch resolves a dotted path (an optional leading "scratch."
// prefix is accepted and stripped) against scratch, returning the value
// and whether it was found.
func (e *Environment) ResolveScratch(path string) (interface{}, bool) {
	segments := splitDotted(trimScratchPrefix(path))
	if len(segments) == 0 {
		return nil, false
	}

	var cur interface{} = e.Scratch
	for _, seg := range segments {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func trimScratchPrefix(path string) string {
	const prefix = "scratch."
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

func splitDotted(path string) []string {
	if path == "" {
		return nil
	}
	var segments []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			segments = append(segments, path[start:i])
			start = i + 1
		}
	}
	segments = append(segments, path[start:])
	return segments
}
