package rlm

import (
	"fmt"
	"strconv"
)

// RunStats summarizes one root (or planned) call for callers that don't
// want to walk the full Trace.
type RunStats struct {
	LlmCalls       int `json:"llm_calls"`
	Steps          int `json:"steps"`
	Depth          int `json:"depth"`
	ParsingRetries int `json:"parsing_retries,omitempty"`
}

// JSONSchema is the internal JSON Schema representation SchemaValidator
// converts to/from Google's jsonschema-go types, per spec §6.
type JSONSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]*JSONSchema `json:"properties,omitempty"`
	Items      *JSONSchema            `json:"items,omitempty"`
	Required   []string               `json:"required,omitempty"`
	Enum       []string               `json:"enum,omitempty"`
	Nullable   bool                   `json:"nullable,omitempty"`

	Minimum    *float64 `json:"minimum,omitempty"`
	Maximum    *float64 `json:"maximum,omitempty"`
	MultipleOf *float64 `json:"multipleOf,omitempty"`

	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Format    string `json:"format,omitempty"`

	MinItems    *int `json:"minItems,omitempty"`
	MaxItems    *int `json:"maxItems,omitempty"`
	UniqueItems bool `json:"uniqueItems,omitempty"`

	AdditionalProperties interface{} `json:"additionalProperties,omitempty"`

	AnyOf []*JSONSchema `json:"anyOf,omitempty"`
	AllOf []*JSONSchema `json:"allOf,omitempty"`
}

// Config is the top-level configuration for an rlmcore runtime: provider
// connection details, budget/loop defaults, and observability.
type Config struct {
	Model          string
	APIBase        string
	APIKey         string
	DefaultBudget  Budget
	RootLoop       RootLoopConfig
	Observability  *ObservabilityConfig
	ExtraParams    map[string]interface{}
}

// ConfigFromMap parses a Config from a loosely-typed map, in the teacher's
// bridge-friendly style (cmd/rlm decodes a JSON request into exactly this
// shape before constructing a runtime).
func ConfigFromMap(config map[string]interface{}) Config {
	parsed := Config{
		DefaultBudget: *DefaultBudget(),
		RootLoop:      DefaultRootLoopConfig(),
		ExtraParams:   map[string]interface{}{},
	}

	if config == nil {
		return parsed
	}

	obsConfigMap := ExtractObservabilityConfig(config)
	if len(obsConfigMap) > 0 {
		obsConfig := ObservabilityConfigFromMap(obsConfigMap)
		parsed.Observability = &obsConfig
	}

	for key, value := range config {
		switch key {
		case "model":
			parsed.Model = toString(value)
		case "api_base":
			parsed.APIBase = toString(value)
		case "api_key":
			parsed.APIKey = toString(value)
		case "max_steps":
			if v, ok := toInt(value); ok {
				parsed.DefaultBudget.MaxSteps = v
			}
		case "max_sub_calls":
			if v, ok := toInt(value); ok {
				parsed.DefaultBudget.MaxSubCalls = v
			}
		case "max_depth":
			if v, ok := toInt(value); ok {
				parsed.DefaultBudget.MaxDepth = v
			}
		case "max_prompt_read_chars":
			if v, ok := toInt(value); ok {
				parsed.DefaultBudget.MaxPromptReadChars = v
			}
		case "max_time_ms":
			if v, ok := toInt(value); ok {
				parsed.DefaultBudget.MaxTimeMs = v
			}
		case "enable_early_stop_heuristic":
			if v, ok := value.(bool); ok {
				parsed.RootLoop.EnableEarlyStopHeuristic = v
			}
		case "enable_heuristic_postprocess":
			if v, ok := value.(bool); ok {
				parsed.RootLoop.EnableHeuristicPostprocess = v
			}
		case "require_prompt_read_before_finalize":
			if v, ok := value.(bool); ok {
				parsed.RootLoop.RequirePromptReadBeforeFinalize = v
			}
		case "observability", "debug", "trace_enabled", "trace_endpoint",
			"service_name", "log_output", "langfuse_enabled",
			"langfuse_public_key", "langfuse_secret_key", "langfuse_host":
			// handled above via ExtractObservabilityConfig
		default:
			parsed.ExtraParams[key] = value
		}
	}

	return parsed
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}

func toInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		parsed, err := strconv.Atoi(v)
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}
