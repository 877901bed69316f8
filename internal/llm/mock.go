package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// MockGenerator provides deterministic local replies when no provider is configured.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	// Requests without a system prompt are analysis requests; answer with a
	// fenced JSON document like real models tend to.
	if systemPrompt == "" {
		return mockSummary(messages), nil
	}

	last := ""
	if n := len(messages); n > 0 {
		last = strings.TrimSpace(messages[n-1].Content)
	}
	if last == "" {
		last = "I am listening."
	}
	if len(messages) <= 1 {
		return fmt.Sprintf("I heard you: %s. Tell me more?", last), nil
	}
	return fmt.Sprintf("I heard you: %s. We've exchanged %d messages so far, what else is on your mind?", last, len(messages)), nil
}

func mockSummary(messages []Message) string {
	lines := 0
	if len(messages) > 0 {
		lines = strings.Count(messages[len(messages)-1].Content, "\n")
	}
	doc, _ := json.MarshalIndent(map[string]any{
		"summary": fmt.Sprintf("A short conversation of about %d lines.", lines),
		"tags":    []string{"conversation"},
		"emotional_themes": []map[string]string{
			{"theme": "curiosity", "description": "The speakers explored a topic together."},
		},
		"title": "Conversation",
	}, "", "  ")
	return "```json\n" + string(doc) + "\n```"
}
