package rlm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// SymbolCall is the payload an external symbol receives, per spec §6.
type SymbolCall struct {
	Symbol   string
	Prompt   string
	PromptID string
	Depth    int
	Scratch  map[string]interface{}
	Args     interface{}
	Input    interface{}
}

// Symbol is an externally supplied function invoked by call_symbol.
type Symbol func(ctx context.Context, call SymbolCall) (interface{}, error)

// SubCaller spawns and runs a sub-RLM for sub_map, returning its final
// value. It is satisfied by SubRLMDispatcher.Dispatch.
type SubCaller func(ctx context.Context, env *Environment, subPrompt string) (string, bool, error)

// ActionInterpreter is the single-entry exec(action, step) → stdout
// evaluator from spec §4.4. It owns no state of its own beyond its
// optional symbol table and sub-caller; everything it mutates lives on
// the Environment it's given.
type ActionInterpreter struct {
	Symbols   map[string]Symbol
	SubCaller SubCaller

	// Observer receives a repl_exec span per action, when set. A nil
	// Observer is a valid no-op.
	Observer *Observer
}

// NewActionInterpreter builds an interpreter with an empty symbol table.
func NewActionInterpreter(subCaller SubCaller) *ActionInterpreter {
	return &ActionInterpreter{Symbols: make(map[string]Symbol), SubCaller: subCaller}
}

var wordSplitter = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)

// Exec evaluates one coerced action against env, returning a short JSON
// summary string for the `stdout` the Root Loop echoes back to the LM.
func (ai *ActionInterpreter) Exec(ctx context.Context, env *Environment, action *Action, step int) (string, error) {
	if ai.Observer != nil {
		spanCtx := ai.Observer.StartSpan("repl_exec", map[string]string{
			"op":   action.Op,
			"step": fmt.Sprintf("%d", step),
		})
		defer ai.Observer.EndSpan(spanCtx)
	}

	switch action.Op {
	case "prompt_meta":
		return fmt.Sprintf(`{"promptId":%q,"length":%d}`, env.PromptID, len(env.Prompt)), nil

	case "doc_parse":
		return ai.execDocParse(env, action)

	case "doc_select_section":
		return ai.execDocSelectSection(env, action)

	case "doc_table_sum":
		return ai.execDocTableSum(env, action)

	case "doc_select_rows":
		return ai.execDocSelectRows(env, action)

	case "doc_project_columns":
		return ai.execDocProjectColumns(env, action)

	case "slice_prompt":
		return ai.execSlicePrompt(env, action)

	case "find":
		return ai.execFind(env, action)

	case "chunk_newlines":
		return ai.execChunkNewlines(env, action)

	case "chunk_tokens":
		return ai.execChunkTokens(env, action)

	case "sum_csv_column":
		return ai.execSumCSVColumn(env, action)

	case "pick_word":
		return ai.execPickWord(env, action)

	case "sub_map":
		return ai.execSubMap(ctx, env, action)

	case "reduce_join":
		return ai.execReduceJoin(env, action)

	case "set":
		return ai.execSet(env, action)

	case "finalize", "finalize_literal":
		return ai.execFinalize(env, action)

	case "call_symbol":
		return ai.execCallSymbol(ctx, env, action)

	default:
		return "", fmt.Errorf("unknown op: %s", action.Op)
	}
}

func (ai *ActionInterpreter) readPrompt(env *Environment) (string, error) {
	content, err := env.Docs.ReadAll(env.DocID)
	if err != nil {
		return "", err
	}
	if err := env.Budget.ConsumePromptChars(len(content)); err != nil {
		return "", err
	}
	return content, nil
}

func (ai *ActionInterpreter) execDocParse(env *Environment, action *Action) (string, error) {
	content, err := ai.readPrompt(env)
	if err != nil {
		return "", err
	}

	format := StructuredFormat(action.Format)
	if format == "" {
		format = FormatAuto
	}
	doc, err := ParseStructuredDocument(content, ParseStructuredDocumentOptions{Format: format, Delimiter: action.Delimiter})
	if err != nil {
		return "", err
	}

	env.Scratch[action.Out] = doc

	switch doc.Format {
	case FormatMarkdown:
		return fmt.Sprintf(`{"format":"markdown","lines":%d,"sections":%d}`, doc.LineCount, len(doc.Markdown.Sections)), nil
	case FormatCSV:
		return fmt.Sprintf(`{"format":"csv","lines":%d,"rows":%d,"columns":%d}`, doc.LineCount, len(doc.CSV.Rows), len(doc.CSV.Headers)), nil
	default:
		return fmt.Sprintf(`{"format":"text","lines":%d}`, doc.LineCount), nil
	}
}

func (ai *ActionInterpreter) lookupDoc(env *Environment, key string) (*StructuredDocument, error) {
	v, ok := env.Scratch[key]
	if !ok {
		return nil, fmt.Errorf("scratch key not found: %s", key)
	}
	doc, ok := v.(*StructuredDocument)
	if !ok {
		return nil, fmt.Errorf("scratch key %s is not a parsed document", key)
	}
	return doc, nil
}

func (ai *ActionInterpreter) execDocSelectSection(env *Environment, action *Action) (string, error) {
	doc, err := ai.lookupDoc(env, action.In)
	if err != nil {
		return "", err
	}
	if doc.Markdown == nil {
		return "", fmt.Errorf("scratch key %s is not a markdown document", action.In)
	}
	section, ok := doc.Markdown.Section(action.Title)
	if !ok {
		return "", fmt.Errorf("markdown section not found: %s", action.Title)
	}
	env.Scratch[action.Out] = section.Body
	return fmt.Sprintf(`{"title":%q,"length":%d}`, section.Title, len(section.Body)), nil
}

func (ai *ActionInterpreter) execDocTableSum(env *Environment, action *Action) (string, error) {
	doc, err := ai.lookupDoc(env, action.In)
	if err != nil {
		return "", err
	}
	if doc.CSV == nil {
		return "", fmt.Errorf("scratch key %s is not a csv document", action.In)
	}
	sum, err := doc.CSV.SumColumn(action.Column)
	if err != nil {
		return "", err
	}
	result := stringifyValue(sum)
	env.Scratch[action.Out] = result
	return fmt.Sprintf(`{"sum":%s}`, result), nil
}

func (ai *ActionInterpreter) execDocSelectRows(env *Environment, action *Action) (string, error) {
	doc, err := ai.lookupDoc(env, action.In)
	if err != nil {
		return "", err
	}
	if doc.CSV == nil {
		return "", fmt.Errorf("scratch key %s is not a csv document", action.In)
	}
	filtered, err := doc.CSV.FilterRows(action.Column, RowComparator(action.Comparator), action.Value)
	if err != nil {
		return "", err
	}
	out := &StructuredDocument{Format: FormatCSV, CSV: filtered, LineCount: len(filtered.Rows) + 1}
	env.Scratch[action.Out] = out
	return fmt.Sprintf(`{"rows":%d}`, len(filtered.Rows)), nil
}

func (ai *ActionInterpreter) execDocProjectColumns(env *Environment, action *Action) (string, error) {
	doc, err := ai.lookupDoc(env, action.In)
	if err != nil {
		return "", err
	}
	if doc.CSV == nil {
		return "", fmt.Errorf("scratch key %s is not a csv document", action.In)
	}
	projected, err := doc.CSV.ProjectColumns(action.Columns)
	if err != nil {
		return "", err
	}

	sep := action.Separator
	if sep == "" {
		sep = ","
	}

	lines := make([]string, 0, len(projected.Rows)+1)
	if action.IncludeHeader {
		lines = append(lines, strings.Join(projected.Headers, sep))
	}
	for _, row := range projected.Rows {
		lines = append(lines, strings.Join(row, sep))
	}

	env.Scratch[action.Out] = lines
	return fmt.Sprintf(`{"rows":%d}`, len(projected.Rows)), nil
}

func (ai *ActionInterpreter) execSlicePrompt(env *Environment, action *Action) (string, error) {
	content, err := env.Docs.ReadAll(env.DocID)
	if err != nil {
		return "", err
	}

	start := action.Start
	end := action.End
	if start > len(content) {
		start = len(content)
	}
	if end > len(content) {
		end = len(content)
	}
	if start > end {
		start = end
	}

	if err := env.Budget.ConsumePromptChars(end - start); err != nil {
		return "", err
	}

	slice := content[start:end]
	env.Scratch[action.Out] = slice
	return fmt.Sprintf(`{"length":%d}`, len(slice)), nil
}

func (ai *ActionInterpreter) execFind(env *Environment, action *Action) (string, error) {
	content, err := ai.readPrompt(env)
	if err != nil {
		return "", err
	}

	step := len(action.Needle)
	if step < 1 {
		step = 1
	}

	from := action.From
	if from > len(content) {
		from = len(content)
	}

	var indices []int
	for i := from; i+len(action.Needle) <= len(content); {
		idx := strings.Index(content[i:], action.Needle)
		if idx < 0 {
			break
		}
		hit := i + idx
		indices = append(indices, hit)
		i = hit + step
	}

	env.Scratch[action.Out] = indices
	return fmt.Sprintf(`{"hits":%d}`, len(indices)), nil
}

func (ai *ActionInterpreter) execChunkNewlines(env *Environment, action *Action) (string, error) {
	content, err := ai.readPrompt(env)
	if err != nil {
		return "", err
	}

	lines := regexp.MustCompile(`\r?\n`).Split(content, -1)
	var chunks []string
	for i := 0; i < len(lines); i += action.MaxLines {
		end := i + action.MaxLines
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, strings.Join(lines[i:end], "\n"))
	}

	env.Scratch[action.Out] = chunks
	return fmt.Sprintf(`{"chunks":%d}`, len(chunks)), nil
}

func (ai *ActionInterpreter) execChunkTokens(env *Environment, action *Action) (string, error) {
	content, err := ai.readPrompt(env)
	if err != nil {
		return "", err
	}

	tokens := strings.Fields(content)
	step := action.MaxTokens - action.Overlap
	if step < 1 {
		step = 1
	}

	var chunks []string
	for i := 0; i < len(tokens); i += step {
		end := i + action.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[i:end], " "))
		if end >= len(tokens) {
			break
		}
	}

	env.Scratch[action.Out] = chunks
	return fmt.Sprintf(`{"chunks":%d}`, len(chunks)), nil
}

func (ai *ActionInterpreter) execSumCSVColumn(env *Environment, action *Action) (string, error) {
	content, err := ai.readPrompt(env)
	if err != nil {
		return "", err
	}

	delimiter := action.Delimiter
	if delimiter == "" {
		delimiter = ","
	}
	doc, err := parseCSV(splitLines(content), delimiter)
	if err != nil {
		return "", err
	}
	sum, err := doc.SumColumn(action.Column)
	if err != nil {
		return "", err
	}

	result := stringifyValue(sum)
	env.Scratch[action.Out] = result
	return fmt.Sprintf(`{"sum":%s}`, result), nil
}

func (ai *ActionInterpreter) execPickWord(env *Environment, action *Action) (string, error) {
	content, err := ai.readPrompt(env)
	if err != nil {
		return "", err
	}

	words := wordSplitter.Split(content, -1)
	filtered := words[:0]
	for _, w := range words {
		if w != "" {
			filtered = append(filtered, w)
		}
	}
	if len(filtered) == 0 {
		return "", fmt.Errorf("pick_word: prompt contains no words")
	}

	idx := action.Start
	if idx < 0 {
		idx = 0
	}
	if idx > len(filtered)-1 {
		idx = len(filtered) - 1
	}

	word := filtered[idx]
	env.Scratch[action.Out] = word
	return fmt.Sprintf(`{"word":%q}`, word), nil
}

func (ai *ActionInterpreter) execSubMap(ctx context.Context, env *Environment, action *Action) (string, error) {
	if ai.SubCaller == nil {
		return "", fmt.Errorf("sub_map requires a configured sub-RLM dispatcher")
	}

	raw, ok := env.Scratch[action.In]
	if !ok {
		return "", fmt.Errorf("scratch key not found: %s", action.In)
	}
	items, err := asStringSlice(raw)
	if err != nil {
		return "", fmt.Errorf("sub_map requires an array input: %w", err)
	}

	limit := len(items)
	if action.Limit > 0 && action.Limit < limit {
		limit = action.Limit
	}
	items = items[:limit]

	concurrency := action.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]string, len(items))
	cached := make([]bool, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item string) {
			defer wg.Done()
			defer func() { <-sem }()
			subPrompt := strings.ReplaceAll(action.QueryTemplate, "{{item}}", item)
			value, hit, err := ai.SubCaller(ctx, env, subPrompt)
			results[i] = value
			cached[i] = hit
			errs[i] = err
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			// Errors from SubCaller already carry the right classification:
			// a bare *BudgetExceededError (this environment's own depth/
			// subcall budget) stays fatal, everything else is a
			// *SubRLMError the dispatcher already wrapped.
			return "", err
		}
	}

	out := make([]interface{}, len(results))
	cacheHits := 0
	for i, r := range results {
		out[i] = r
		if cached[i] {
			cacheHits++
		}
	}
	env.Scratch[action.Out] = out

	return fmt.Sprintf(`{"mapped":%d,"cached":%d}`, len(out), cacheHits), nil
}

func (ai *ActionInterpreter) execReduceJoin(env *Environment, action *Action) (string, error) {
	raw, ok := env.Scratch[action.In]
	if !ok {
		return "", fmt.Errorf("scratch key not found: %s", action.In)
	}
	items, err := asStringSlice(raw)
	if err != nil {
		return "", fmt.Errorf("reduce_join requires an array input: %w", err)
	}

	joined := strings.Join(items, action.Sep)
	env.Scratch[action.Out] = joined
	return fmt.Sprintf(`{"length":%d}`, len(joined)), nil
}

func (ai *ActionInterpreter) execSet(env *Environment, action *Action) (string, error) {
	if err := env.SetScratch(action.Path, action.LiteralValue); err != nil {
		return "", err
	}
	return fmt.Sprintf(`{"path":%q}`, action.Path), nil
}

func (ai *ActionInterpreter) execFinalize(env *Environment, action *Action) (string, error) {
	if env.RequirePromptReadBeforeFinalize && env.Budget.PromptReadCharsUsed == 0 {
		return "", fmt.Errorf("finalize requires at least one prompt read first")
	}

	if action.Op == "finalize_literal" {
		env.Final = stringifyValue(action.LiteralValue)
		env.HasFinal = true
		return fmt.Sprintf(`{"final":%q}`, env.Final), nil
	}

	value, ok := env.ResolveScratch(action.FromField)
	if !ok {
		return "", fmt.Errorf("finalize: scratch value not found: %s", action.FromField)
	}

	env.Final = stringifyValue(value)
	env.HasFinal = true
	return fmt.Sprintf(`{"final":%q}`, env.Final), nil
}

func (ai *ActionInterpreter) execCallSymbol(ctx context.Context, env *Environment, action *Action) (string, error) {
	symbol, ok := ai.Symbols[action.Symbol]
	if !ok {
		return "", fmt.Errorf("unknown symbol: %s", action.Symbol)
	}

	value, err := symbol(ctx, SymbolCall{
		Symbol:   action.Symbol,
		Prompt:   env.Prompt,
		PromptID: env.PromptID,
		Depth:    env.Depth,
		Scratch:  env.Scratch,
		Args:     action.Args,
		Input:    action.Input,
	})
	if err != nil {
		return "", fmt.Errorf("call_symbol %s failed: %w", action.Symbol, err)
	}

	env.Scratch[action.Out] = value
	return fmt.Sprintf(`{"symbol":%q}`, action.Symbol), nil
}

func asStringSlice(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []string:
		return t, nil
	case []interface{}:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = stringifyValue(item)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value is not an array")
	}
}
