package rlm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Action is the tagged variant covering every DSL operation from spec §4.4.
// The LM emits a single JSON object per turn; Coerce normalizes it into one
// of these before the ActionInterpreter ever sees it. Fields are shared
// across ops rather than one struct per op, matching the teacher's
// single-envelope decode-then-switch style.
type Action struct {
	Op string

	// doc_parse
	Format    string
	Delimiter string

	// doc_select_section, doc_select_rows, doc_table_sum, doc_project_columns, reduce_join
	In string

	// shared output scratch key
	Out string

	// doc_select_section
	Title string

	// doc_select_rows
	Column     string
	Comparator string
	Value      string

	// doc_project_columns
	Columns       []string
	Separator     string
	IncludeHeader bool

	// slice_prompt; also doubles as pick_word's word index
	Start int
	End   int

	// find
	Needle string
	From   int

	// chunk_newlines
	MaxLines int

	// chunk_tokens
	MaxTokens int
	Overlap   int

	// sub_map
	QueryTemplate string
	Limit         int
	Concurrency   int

	// reduce_join
	Sep string

	// set, finalize (compatibility literal shapes)
	Path         string
	LiteralValue interface{}

	// finalize
	FromField string

	// call_symbol
	Symbol string
	Args   interface{}
	Input  interface{}
}

// rawAction is the permissive shape a JSON turn decodes into before
// coercion. Every field is interface{}/string so slightly-off-spec LM
// output (numeric strings, aliases) can be inspected and repaired.
type rawAction struct {
	Op string `json:"op"`

	Format    interface{} `json:"format"`
	Delimiter interface{} `json:"delimiter"`

	In  interface{} `json:"in"`
	Out interface{} `json:"out"`

	Title interface{} `json:"title"`

	Column      interface{} `json:"column"`
	WhereColumn interface{} `json:"whereColumn"`
	Comparator  interface{} `json:"comparator"`
	Operator    interface{} `json:"operator"`
	Value       interface{} `json:"value"`
	Equals      interface{} `json:"equals"`
	Match       interface{} `json:"match"`

	Columns       interface{} `json:"columns"`
	Cols          interface{} `json:"cols"`
	Separator     interface{} `json:"separator"`
	Sep2          interface{} `json:"sep"`
	IncludeHeader interface{} `json:"includeHeader"`

	Start interface{} `json:"start"`
	End   interface{} `json:"end"`
	Index interface{} `json:"index"`

	Needle interface{} `json:"needle"`
	From   interface{} `json:"from"`
	Path2  interface{} `json:"path"`
	Key    interface{} `json:"key"`

	MaxLines interface{} `json:"maxLines"`

	MaxTokens interface{} `json:"maxTokens"`
	Overlap   interface{} `json:"overlap"`

	QueryTemplate interface{} `json:"queryTemplate"`
	Limit         interface{} `json:"limit"`
	Concurrency   interface{} `json:"concurrency"`

	Value2 interface{} `json:"value2"`

	Symbol interface{} `json:"symbol"`
	Args   interface{} `json:"args"`
	Input  interface{} `json:"input"`

	Env map[string]interface{} `json:"env"`
}

// ExtractFirstJSONObject scans text for the first balanced {...} object and
// returns its substring. LMs often wrap JSON in prose or code fences; the
// Root Loop always looks for the first balanced object rather than
// requiring the whole message to be JSON.
func ExtractFirstJSONObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in LM output")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON object in LM output")
}

// CoerceAction parses and normalizes one LM turn per spec §4.4's coercion
// table: alias fields, numeric-string→number, boolean-ish strings, and
// conventional `out` defaults. It returns a structured reason on failure so
// the Root Loop can surface `unknown op: <op>` or a field-specific message
// verbatim.
func CoerceAction(jsonText string) (*Action, error) {
	objText, err := ExtractFirstJSONObject(jsonText)
	if err != nil {
		return nil, err
	}

	var raw rawAction
	if err := json.Unmarshal([]byte(objText), &raw); err != nil {
		return nil, fmt.Errorf("invalid action JSON: %w", err)
	}
	if raw.Op == "" {
		return nil, fmt.Errorf("action missing required field: op")
	}

	a := &Action{Op: raw.Op}

	switch raw.Op {
	case "prompt_meta":
		// no fields

	case "doc_parse":
		a.Format = coerceString(raw.Format)
		a.Delimiter = coerceString(raw.Delimiter)
		a.Out = firstNonEmpty(coerceString(raw.Out), "doc")

	case "doc_select_section":
		a.In = coerceString(raw.In)
		a.Title = coerceString(raw.Title)
		a.Out = coerceString(raw.Out)
		if a.In == "" || a.Title == "" || a.Out == "" {
			return nil, fmt.Errorf("doc_select_section requires in, title, out")
		}

	case "doc_table_sum":
		a.In = coerceString(raw.In)
		a.Column = firstNonEmpty(coerceString(raw.Column), coerceString(raw.WhereColumn))
		a.Out = coerceString(raw.Out)
		if a.In == "" || a.Column == "" || a.Out == "" {
			return nil, fmt.Errorf("doc_table_sum requires in, column, out")
		}

	case "doc_select_rows":
		a.In = coerceString(raw.In)
		a.Column = firstNonEmpty(coerceString(raw.Column), coerceString(raw.WhereColumn))
		a.Comparator = firstNonEmpty(coerceString(raw.Comparator), coerceString(raw.Operator), "eq")
		a.Value = firstNonEmpty(coerceString(raw.Value), coerceString(raw.Equals), coerceString(raw.Match))
		a.Out = coerceString(raw.Out)
		if a.In == "" || a.Column == "" || a.Out == "" {
			return nil, fmt.Errorf("doc_select_rows requires in, column, out")
		}

	case "doc_project_columns":
		a.In = coerceString(raw.In)
		a.Columns = firstNonEmptySlice(coerceStringSlice(raw.Columns), coerceStringSlice(raw.Cols))
		a.Separator = firstNonEmpty(coerceString(raw.Separator), coerceString(raw.Sep2), ",")
		a.IncludeHeader = coerceBool(raw.IncludeHeader)
		a.Out = coerceString(raw.Out)
		if a.In == "" || len(a.Columns) == 0 || a.Out == "" {
			return nil, fmt.Errorf("doc_project_columns requires in, columns, out")
		}

	case "slice_prompt":
		start := coerceInt(raw.Start)
		end := coerceInt(raw.End)
		if start < 0 {
			start = 0
		}
		if end < start {
			end = start
		}
		a.Start = start
		a.End = end
		a.Out = coerceString(raw.Out)
		if a.Out == "" {
			return nil, fmt.Errorf("slice_prompt requires out")
		}

	case "find":
		a.Needle = coerceString(raw.Needle)
		a.From = coerceInt(raw.From)
		if a.From < 0 {
			a.From = 0
		}
		a.Out = coerceString(raw.Out)
		if a.Needle == "" || a.Out == "" {
			return nil, fmt.Errorf("find requires needle, out")
		}

	case "chunk_newlines":
		a.MaxLines = coerceInt(raw.MaxLines)
		a.Out = coerceString(raw.Out)
		if a.MaxLines <= 0 || a.Out == "" {
			return nil, fmt.Errorf("chunk_newlines requires a positive maxLines and out")
		}

	case "chunk_tokens":
		a.MaxTokens = coerceInt(raw.MaxTokens)
		a.Overlap = coerceInt(raw.Overlap)
		a.Out = coerceString(raw.Out)
		if a.MaxTokens <= 0 || a.Out == "" {
			return nil, fmt.Errorf("chunk_tokens requires a positive maxTokens and out")
		}
		if a.Overlap >= a.MaxTokens {
			return nil, fmt.Errorf("chunk_tokens overlap must be less than maxTokens")
		}

	case "sum_csv_column":
		a.Column = firstNonEmpty(coerceString(raw.Column), coerceString(raw.WhereColumn))
		a.Delimiter = firstNonEmpty(coerceString(raw.Delimiter), ",")
		a.Out = coerceString(raw.Out)
		if a.Column == "" || a.Out == "" {
			return nil, fmt.Errorf("sum_csv_column requires column, out")
		}

	case "pick_word":
		if raw.Index != nil {
			a.Start = coerceInt(raw.Index)
		} else {
			a.Start = coerceInt(raw.Start)
		}
		a.Out = coerceString(raw.Out)
		if a.Out == "" {
			return nil, fmt.Errorf("pick_word requires out")
		}

	case "sub_map":
		a.In = coerceString(raw.In)
		a.QueryTemplate = coerceString(raw.QueryTemplate)
		a.Out = firstNonEmpty(coerceString(raw.Out), "mapped")
		a.Limit = coerceInt(raw.Limit)
		a.Concurrency = coerceInt(raw.Concurrency)
		if a.In == "" || a.QueryTemplate == "" {
			return nil, fmt.Errorf("sub_map requires in, queryTemplate")
		}
		if a.Concurrency <= 0 {
			a.Concurrency = 1
		}

	case "reduce_join":
		a.In = coerceString(raw.In)
		a.Sep = coerceString(raw.Sep2)
		a.Out = coerceString(raw.Out)
		if a.In == "" || a.Out == "" {
			return nil, fmt.Errorf("reduce_join requires in, out")
		}

	case "set":
		a.Path = firstNonEmpty(coerceString(raw.Path2), coerceString(raw.Key))
		a.LiteralValue = raw.Value
		if a.Path == "" {
			return nil, fmt.Errorf("set requires path")
		}

	case "finalize":
		a.FromField = coerceString(raw.From)
		if a.FromField == "" && raw.Env != nil {
			if v, ok := raw.Env["final"]; ok {
				a.LiteralValue = v
				a.Op = "finalize_literal"
				return a, nil
			}
		}
		if a.FromField == "" && raw.Value != nil {
			a.LiteralValue = raw.Value
			a.Op = "finalize_literal"
			return a, nil
		}
		if a.FromField == "" {
			return nil, fmt.Errorf("finalize requires from")
		}

	case "call_symbol":
		a.Symbol = coerceString(raw.Symbol)
		a.Out = coerceString(raw.Out)
		a.Args = raw.Args
		a.Input = raw.Input
		if a.Symbol == "" || a.Out == "" {
			return nil, fmt.Errorf("call_symbol requires symbol, out")
		}

	default:
		return nil, fmt.Errorf("unknown op: %s", raw.Op)
	}

	return a, nil
}

func coerceString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func coerceInt(v interface{}) int {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return int(t)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
		return 0
	default:
		return 0
	}
}

func coerceBool(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	case float64:
		return t != 0
	default:
		return false
	}
}

func coerceStringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		out = append(out, coerceString(item))
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptySlice(slices ...[]string) []string {
	for _, s := range slices {
		if len(s) > 0 {
			return s
		}
	}
	return nil
}
