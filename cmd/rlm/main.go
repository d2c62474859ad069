package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rlmrun/rlmcore/internal/rlmhttp"
	"github.com/rlmrun/rlmcore/rlm"
)

type requestPayload struct {
	Model   string                 `json:"model"`
	Query   string                 `json:"query"`
	Context string                 `json:"context"`
	Config  map[string]interface{} `json:"config"`
}

type responsePayload struct {
	Final       string       `json:"final"`
	Stats       rlm.RunStats `json:"stats"`
	TraceEvents interface{}  `json:"trace_events,omitempty"`
}

func main() {
	input, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to read stdin:", err)
		os.Exit(1)
	}

	var req requestPayload
	if err := json.Unmarshal(input, &req); err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse input JSON:", err)
		os.Exit(1)
	}

	if req.Model == "" {
		fmt.Fprintln(os.Stderr, "missing model in request payload")
		os.Exit(1)
	}

	config := rlm.ConfigFromMap(req.Config)

	var obs *rlm.Observer
	if config.Observability != nil {
		obs = rlm.NewObserver(*config.Observability)
	} else {
		obs = rlm.NewNoopObserver()
	}
	defer obs.Shutdown()

	provider := &rlmhttp.Provider{Model: req.Model, APIBase: config.APIBase, APIKey: config.APIKey}

	env := rlm.NewEnvironment(req.Context, &config.DefaultBudget)
	interpreter := rlm.NewActionInterpreter(nil)
	interpreter.Observer = obs
	loop := rlm.NewRootLoop(provider, interpreter)
	loop.Config = config.RootLoop
	loop.Observer = obs

	dispatcher := rlm.NewSubRLMDispatcher(loop)
	dispatcher.Observer = obs
	interpreter.SubCaller = dispatcher.Dispatch

	executor := &rlm.PlannedExecutor{
		Planner:     rlm.NewPlanner(provider),
		Provider:    provider,
		Interpreter: interpreter,
		Observer:    obs,
	}

	result, err := executor.Execute(context.Background(), env, req.Query, rlm.RunOptions{
		Budget: &config.DefaultBudget,
		Config: config.RootLoop,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	resp := responsePayload{}
	switch {
	case result.Single != nil:
		resp.Final = result.Single.Final
		resp.Stats = rlm.RunStats{Steps: result.Single.Budget.StepsUsed, Depth: env.Depth}
		resp.TraceEvents = result.Single.Trace
	case result.LongRun != nil:
		resp.Final = fmt.Sprintf("%v", result.LongRun.FinalBaseline)
		resp.Stats = rlm.RunStats{Depth: env.Depth}
	}

	events := obs.GetEvents()
	if len(events) > 0 && resp.TraceEvents == nil {
		resp.TraceEvents = events
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to encode response JSON:", err)
		os.Exit(1)
	}

	fmt.Println(string(payload))
}
