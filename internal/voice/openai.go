package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ent0n29/confidant/internal/llm"
)

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// OpenAITranscriber sends one clip to the audio transcription endpoint.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

func NewOpenAITranscriber(apiKey, baseURL, model string) *OpenAITranscriber {
	if strings.TrimSpace(model) == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{client: newOpenAIClient(apiKey, baseURL), model: model}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, clip []byte, format string) (string, error) {
	if len(clip) == 0 {
		return "", fmt.Errorf("openai transcribe: empty audio")
	}
	format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
	if format == "" {
		format = "wav"
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "utterance." + format,
		Reader:   bytes.NewReader(clip),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", llm.WrapOpenAIError(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// OpenAISynthesizer renders mp3 through the speech endpoint.
type OpenAISynthesizer struct {
	client       *openai.Client
	model        string
	defaultVoice openai.SpeechVoice
}

func NewOpenAISynthesizer(apiKey, baseURL, model string) *OpenAISynthesizer {
	if strings.TrimSpace(model) == "" {
		model = string(openai.TTSModel1)
	}
	return &OpenAISynthesizer{client: newOpenAIClient(apiKey, baseURL), model: model, defaultVoice: openai.VoiceNova}
}

// openAIVoices maps persona voice names onto the fixed OpenAI voice set.
var openAIVoices = map[string]openai.SpeechVoice{
	"joanna":  openai.VoiceNova,
	"matthew": openai.VoiceOnyx,
	"emma":    openai.VoiceShimmer,
	"amy":     openai.VoiceFable,
	"brian":   openai.VoiceEcho,
}

func (s *OpenAISynthesizer) voiceFor(voiceID string) openai.SpeechVoice {
	key := strings.ToLower(strings.TrimSpace(voiceID))
	if v, ok := openAIVoices[key]; ok {
		return v
	}
	switch openai.SpeechVoice(key) {
	case openai.VoiceAlloy, openai.VoiceEcho, openai.VoiceFable, openai.VoiceOnyx, openai.VoiceNova, openai.VoiceShimmer:
		return openai.SpeechVoice(key)
	}
	return s.defaultVoice
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text, voiceID string) (Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Speech{}, fmt.Errorf("openai speech: empty text")
	}
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          s.voiceFor(voiceID),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return Speech{}, llm.WrapOpenAIError(err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return Speech{}, fmt.Errorf("read openai speech: %w", err)
	}
	if len(data) == 0 {
		return Speech{}, ErrNoAudio
	}
	return Speech{Audio: data, Format: "mp3"}, nil
}
