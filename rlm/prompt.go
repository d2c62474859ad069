package rlm

import (
	"encoding/json"
)

// systemPrompt is the fixed action vocabulary and few-shot examples sent as
// the Root Loop's system turn, per spec §4.6. The document body never
// appears here or anywhere else in the chat.
const systemPrompt = `You are the planning core of a recursive document-processing runtime.
You never see the document body directly — only its length and your own
scratch memory. Each turn you must emit exactly one JSON object describing
one action. Nothing else may appear in your response.

Available actions (op names), one object per turn:
  prompt_meta {}
  doc_parse {format?, delimiter?, out}
  doc_select_section {in, title, out}
  doc_table_sum {in, column, out}
  doc_select_rows {in, column, comparator?, value, out}
  doc_project_columns {in, columns, out, separator?, includeHeader?}
  slice_prompt {start, end, out}
  find {needle, from?, out}
  chunk_newlines {maxLines, out}
  chunk_tokens {maxTokens, overlap?, out}
  sum_csv_column {column, delimiter?, out}
  pick_word {index?, out}
  sub_map {in, queryTemplate, out, limit?, concurrency?}
  reduce_join {in, sep, out}
  set {path, value}
  finalize {from}
  call_symbol {symbol, out, args?, input?}

Rules:
  - Always store results under a scratch key named by "out".
  - Read the document before finalizing (slice_prompt, doc_parse, find,
    chunk_newlines, chunk_tokens, sum_csv_column, or pick_word all count).
  - finalize {from:"answer"} ends the task: it copies scratch.answer (or
    whichever key you name) into the final result.
  - If the runtime replies with {kind:"rlm_error"}, fix the action named
    in "required" and try again.

Examples:
  turn 1: {"op":"doc_parse","format":"csv","out":"doc"}
  turn 2: {"op":"doc_table_sum","in":"doc","column":"score","out":"answer"}
  turn 3: {"op":"finalize","from":"answer"}
`

// initTurn builds the synthetic user turn the Root Loop sends first:
// {kind:"rlm_init", depth, prompt:{promptId,length}, budget, task?, hints}.
func initTurn(env *Environment, task string, hints []string) (string, error) {
	payload := map[string]interface{}{
		"kind":  "rlm_init",
		"depth": env.Depth,
		"prompt": map[string]interface{}{
			"promptId": env.PromptID,
			"length":   len(env.Prompt),
		},
		"budget": budgetSnapshot(env.Budget),
		"hints":  hints,
	}
	if task != "" {
		payload["task"] = task
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// errorTurn builds the recoverable-error observation sent back to the LM.
func errorTurn(env *Environment, errMsg string, required map[string]interface{}) (string, error) {
	payload := map[string]interface{}{
		"kind":       "rlm_error",
		"depth":      env.Depth,
		"error":      errMsg,
		"budgetUsed": budgetSnapshot(env.Budget),
	}
	if required != nil {
		payload["required"] = required
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// stdoutTurn builds the observation the LM receives after a successful
// action execution.
func stdoutTurn(env *Environment, stdout string) (string, error) {
	payload := map[string]interface{}{
		"kind":       "rlm_stdout",
		"depth":      env.Depth,
		"stdout":     preview(stdout),
		"budgetUsed": budgetSnapshot(env.Budget),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func budgetSnapshot(b *Budget) map[string]int {
	return map[string]int{
		"stepsUsed":           b.StepsUsed,
		"subCallsUsed":        b.SubCallsUsed,
		"depth":               b.Depth,
		"promptReadCharsUsed": b.PromptReadCharsUsed,
	}
}

func requiredHint(action string, fields ...string) map[string]interface{} {
	return map[string]interface{}{
		"op":     action,
		"fields": fields,
	}
}
