package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/confidant/internal/reliability"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicGenerator calls the Anthropic Messages API directly.
type AnthropicGenerator struct {
	client *resty.Client
	model  string
	params Params
}

func NewAnthropicGenerator(baseURL, apiKey, model string, params Params) *AnthropicGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60*time.Second).
		SetHeader("x-api-key", apiKey).
		SetHeader("anthropic-version", anthropicAPIVersion).
		SetHeader("Content-Type", "application/json")
	return &AnthropicGenerator{client: client, model: model, params: params}
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func (g *AnthropicGenerator) Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	var (
		out     anthropicResponse
		errBody anthropicErrorBody
	)
	res, err := g.client.R().
		SetContext(ctx).
		SetBody(anthropicRequest{
			Model:       g.model,
			MaxTokens:   g.params.maxTokens(),
			Temperature: g.params.Temperature,
			System:      systemPrompt,
			Messages:    messages,
		}).
		SetResult(&out).
		SetError(&errBody).
		Post("/v1/messages")
	if err != nil {
		return "", fmt.Errorf("anthropic request: %w", err)
	}
	if res.IsError() {
		detail := errBody.Error.Message
		if detail == "" {
			detail = truncate(res.String(), 512)
		}
		return "", &reliability.ProviderError{Provider: "anthropic", StatusCode: res.StatusCode(), Detail: detail}
	}
	return nonEmpty(out.text())
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
