package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiGenerator calls the Gemini API through the genai SDK.
type GeminiGenerator struct {
	client *genai.Client
	model  string
	params Params
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, params Params) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if strings.TrimSpace(model) == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiGenerator{client: client, model: model, params: params}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.params.maxTokens()),
		Temperature:     genai.Ptr(float32(g.params.Temperature)),
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, geminiContents(messages), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	return nonEmpty(resp.Text())
}

func geminiContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}
