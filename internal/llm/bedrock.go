package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/ent0n29/confidant/internal/reliability"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockAPI is the subset of the Bedrock runtime client in use.
type BedrockAPI interface {
	InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockGenerator calls Anthropic models hosted on Amazon Bedrock.
type BedrockGenerator struct {
	api     BedrockAPI
	modelID string
	params  Params
}

func NewBedrockGenerator(cfg aws.Config, modelID string, params Params) *BedrockGenerator {
	return NewBedrockGeneratorWithAPI(bedrockruntime.NewFromConfig(cfg), modelID, params)
}

func NewBedrockGeneratorWithAPI(api BedrockAPI, modelID string, params Params) *BedrockGenerator {
	return &BedrockGenerator{api: api, modelID: modelID, params: params}
}

type anthropicRequest struct {
	AnthropicVersion string    `json:"anthropic_version,omitempty"`
	Model            string    `json:"model,omitempty"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      float64   `json:"temperature"`
	System           string    `json:"system,omitempty"`
	Messages         []Message `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (r anthropicResponse) text() string {
	for _, c := range r.Content {
		if c.Type == "" || c.Type == "text" {
			return c.Text
		}
	}
	return ""
}

func (g *BedrockGenerator) Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        g.params.maxTokens(),
		Temperature:      g.params.Temperature,
		System:           systemPrompt,
		Messages:         messages,
	})
	if err != nil {
		return "", fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := g.api.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", reliability.WrapAWS("bedrock", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("%w: decode bedrock response: %v", ErrEmptyResponse, err)
	}
	return nonEmpty(resp.text())
}
