package rlm

import "context"

// Role is a chat message role, per spec §6.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn in the chat history exchanged with an LMProvider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// JSONSchemaFormat names a structured-output schema, per spec §6.
type JSONSchemaFormat struct {
	Name        string                 `json:"name"`
	Schema      map[string]interface{} `json:"schema"`
	Strict      bool                   `json:"strict,omitempty"`
	Description string                 `json:"description,omitempty"`
}

// ResponseFormat selects the structured-output mode a ChatRequest asks for.
type ResponseFormat struct {
	Type       string            `json:"type"` // "json_object" | "json_schema"
	JSONSchema *JSONSchemaFormat `json:"json_schema,omitempty"`
}

// ChatOptions are the per-call knobs spec §6 allows an LMProvider caller to
// set. Signal is expressed as ctx cancellation rather than a separate field.
type ChatOptions struct {
	MaxTokens      int
	Temperature    float64
	Stop           []string
	ResponseFormat *ResponseFormat
}

// Usage reports token accounting from a provider, when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResult is what complete() returns: text plus optional usage/raw.
type ChatResult struct {
	Text  string
	Usage *Usage
	Raw   interface{}
}

// LMProvider is the caller-supplied one-shot chat completion boundary the
// Root Loop and Planner drive, per spec §6. Implementations must honor ctx
// cancellation as their abort signal.
type LMProvider interface {
	Complete(ctx context.Context, messages []Message, opts ChatOptions) (*ChatResult, error)
}

// ActionResponseSchema is the structured-output schema the Root Loop
// attaches to every LM call: requires op to be one of the known actions,
// allows additional properties, and declares nullable slots for the action
// fields, per spec §6. call_symbol's args and input have no declared slot
// and pass through as additional properties.
func ActionResponseSchema() *JSONSchemaFormat {
	nullableString := map[string]interface{}{"type": []string{"string", "null"}}
	nullableNumber := map[string]interface{}{"type": []string{"number", "null"}}
	nullableBool := map[string]interface{}{"type": []string{"boolean", "null"}}
	nullableArray := map[string]interface{}{"type": []string{"array", "null"}, "items": map[string]interface{}{"type": "string"}}

	return &JSONSchemaFormat{
		Name: "rlm_action",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"op":            map[string]interface{}{"type": "string", "enum": knownOps()},
				"start":         nullableNumber,
				"end":           nullableNumber,
				"out":           nullableString,
				"format":        nullableString,
				"title":         nullableString,
				"columns":       nullableArray,
				"equals":        nullableString,
				"value":         nullableString,
				"comparator":    nullableString,
				"includeHeader": nullableBool,
				"separator":     nullableString,
				"needle":        nullableString,
				"maxLines":      nullableNumber,
				"maxTokens":     nullableNumber,
				"overlap":       nullableNumber,
				"column":        nullableString,
				"delimiter":     nullableString,
				"index":         nullableNumber,
				"in":            nullableString,
				"queryTemplate": nullableString,
				"limit":         nullableNumber,
				"concurrency":   nullableNumber,
				"sep":           nullableString,
				"path":          nullableString,
				"symbol":        nullableString,
				// shared by finalize (scratch path string) and find (scan
				// start offset number)
				"from": map[string]interface{}{"type": []string{"string", "number", "null"}},
			},
			"required":             []string{"op"},
			"additionalProperties": true,
		},
	}
}

func knownOps() []string {
	return []string{
		"prompt_meta", "doc_parse", "doc_select_section", "doc_table_sum",
		"doc_select_rows", "doc_project_columns", "slice_prompt", "find",
		"chunk_newlines", "chunk_tokens", "sum_csv_column", "pick_word",
		"sub_map", "reduce_join", "set", "finalize", "call_symbol",
	}
}
