// Package rlmhttp implements rlm.LMProvider over an OpenAI-compatible chat
// completions endpoint, adapted from the teacher's direct net/http client.
package rlmhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rlmrun/rlmcore/rlm"
)

// defaultClient is a shared HTTP client with connection pooling, reused
// across calls unless a request-specific timeout requires a dedicated one.
var defaultClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Provider is an rlm.LMProvider backed by an OpenAI-compatible HTTP API.
type Provider struct {
	Model   string
	APIBase string
	APIKey  string
	Timeout time.Duration

	// ExtraParams is merged into every request payload verbatim (e.g.
	// provider-specific sampling knobs the ChatOptions shape doesn't name).
	ExtraParams map[string]interface{}
}

// New builds a Provider for the given model against apiBase (empty means
// the OpenAI default).
func New(model, apiBase, apiKey string) *Provider {
	return &Provider{Model: model, APIBase: apiBase, APIKey: apiKey}
}

type chatRequestBody struct {
	Model          string                 `json:"model"`
	Messages       []rlm.Message          `json:"messages"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Temperature    float64                `json:"temperature,omitempty"`
	Stop           []string               `json:"stop,omitempty"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type chatResponseBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements rlm.LMProvider.
func (p *Provider) Complete(ctx context.Context, messages []rlm.Message, opts rlm.ChatOptions) (*rlm.ChatResult, error) {
	endpoint := buildEndpoint(p.APIBase)

	body := chatRequestBody{
		Model:       p.Model,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stop:        opts.Stop,
	}
	if opts.ResponseFormat != nil {
		body.ResponseFormat = responseFormatPayload(opts.ResponseFormat)
	}

	payload, err := marshalWithExtras(body, p.ExtraParams)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	client := defaultClient
	if p.Timeout > 0 {
		client = &http.Client{Timeout: p.Timeout, Transport: defaultClient.Transport}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, rlm.NewAPIError(resp.StatusCode, strings.TrimSpace(string(respBytes)))
	}

	var parsed chatResponseBody
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, rlm.NewAPIError(resp.StatusCode, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, rlm.NewAPIError(resp.StatusCode, "no choices returned by LLM")
	}

	result := &rlm.ChatResult{Text: parsed.Choices[0].Message.Content, Raw: parsed}
	if parsed.Usage != nil {
		result.Usage = &rlm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return result, nil
}

func responseFormatPayload(rf *rlm.ResponseFormat) map[string]interface{} {
	out := map[string]interface{}{"type": rf.Type}
	if rf.JSONSchema != nil {
		schema := map[string]interface{}{
			"name":   rf.JSONSchema.Name,
			"schema": rf.JSONSchema.Schema,
		}
		if rf.JSONSchema.Strict {
			schema["strict"] = true
		}
		if rf.JSONSchema.Description != "" {
			schema["description"] = rf.JSONSchema.Description
		}
		out["json_schema"] = schema
	}
	return out
}

func marshalWithExtras(body chatRequestBody, extra map[string]interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return raw, nil
	}

	var merged map[string]interface{}
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		merged[k] = v
	}
	return json.Marshal(merged)
}

func buildEndpoint(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	if strings.Contains(base, "/chat/completions") {
		return base
	}
	return strings.TrimRight(base, "/") + "/chat/completions"
}
