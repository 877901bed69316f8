package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/confidant/internal/reliability"
)

// OpenAIGenerator uses the chat completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	params Params
}

func NewOpenAIGenerator(apiKey, baseURL, model string, params Params) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model, params: params}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	chat := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		chat = append(chat, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chat = append(chat, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    chat,
		MaxTokens:   g.params.maxTokens(),
		Temperature: float32(g.params.Temperature),
	})
	if err != nil {
		return "", WrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return nonEmpty(resp.Choices[0].Message.Content)
}

// WrapOpenAIError maps go-openai API errors onto ProviderError.
func WrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", &reliability.ProviderError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Detail: apiErr.Message}, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: %w", &reliability.ProviderError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode}, err)
	}
	return fmt.Errorf("openai: %w", err)
}
