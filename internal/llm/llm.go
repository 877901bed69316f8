package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Role is a generation message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation context sent to a model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ErrEmptyResponse is returned when a provider answers without any text.
var ErrEmptyResponse = errors.New("empty model response")

// Generator produces one reply for a system prompt plus ordered messages.
// An empty systemPrompt means no system instruction is sent.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// Params are shared sampling settings.
type Params struct {
	MaxTokens   int
	Temperature float64
}

// Config controls generator construction.
type Config struct {
	Mode   string // auto|bedrock|anthropic|openai|gemini|mock
	Params Params

	AWS            *aws.Config
	BedrockModelID string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiAPIKey string
	GeminiModel  string
}

// NewGenerator builds the configured backend and reports which one was chosen.
// Auto mode prefers Bedrock, then Anthropic, OpenAI, Gemini, and finally mock.
func NewGenerator(ctx context.Context, cfg Config) (Generator, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	if mode == "auto" {
		mode = autoMode(cfg)
	}

	switch mode {
	case "bedrock":
		if cfg.AWS == nil || strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, "", errors.New("bedrock generator requires aws config and BEDROCK_MODEL_ID")
		}
		return NewBedrockGenerator(*cfg.AWS, cfg.BedrockModelID, cfg.Params), mode, nil
	case "anthropic":
		if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
			return nil, "", errors.New("anthropic generator requires ANTHROPIC_API_KEY")
		}
		return NewAnthropicGenerator(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, cfg.AnthropicModel, cfg.Params), mode, nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, "", errors.New("openai generator requires OPENAI_API_KEY")
		}
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.Params), mode, nil
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, "", errors.New("gemini generator requires GEMINI_API_KEY")
		}
		g, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, cfg.Params)
		if err != nil {
			return nil, "", err
		}
		return g, mode, nil
	case "mock":
		return NewMockGenerator(), mode, nil
	default:
		return nil, "", fmt.Errorf("unsupported generator mode %q", cfg.Mode)
	}
}

func autoMode(cfg Config) string {
	switch {
	case cfg.AWS != nil && strings.TrimSpace(cfg.BedrockModelID) != "":
		return "bedrock"
	case strings.TrimSpace(cfg.AnthropicAPIKey) != "":
		return "anthropic"
	case strings.TrimSpace(cfg.OpenAIAPIKey) != "":
		return "openai"
	case strings.TrimSpace(cfg.GeminiAPIKey) != "":
		return "gemini"
	default:
		return "mock"
	}
}

func (p Params) maxTokens() int {
	if p.MaxTokens <= 0 {
		return 512
	}
	return p.MaxTokens
}

func nonEmpty(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
