package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/ent0n29/confidant/internal/config"
	"github.com/ent0n29/confidant/internal/voice"
)

type voiceSetup struct {
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	asr         string
	tts         string
}

// resolveVoice picks the speech-to-text and text-to-speech backends. In auto
// mode ASR prefers OpenAI and TTS prefers ElevenLabs, then Polly when AWS
// credentials resolve, then OpenAI. Mock is the last resort for both.
func resolveVoice(ctx context.Context, cfg config.Config, awsCfg aws.Config) (voiceSetup, error) {
	var out voiceSetup
	hasOpenAI := strings.TrimSpace(cfg.OpenAIAPIKey) != ""

	switch cfg.ASRProvider {
	case "openai":
		if !hasOpenAI {
			return voiceSetup{}, fmt.Errorf("ASR_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		out.transcriber, out.asr = voice.NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAITranscribeModel), "openai"
	case "mock":
		out.transcriber, out.asr = voice.NewMockTranscriber(), "mock"
	case "", "auto":
		if hasOpenAI {
			out.transcriber, out.asr = voice.NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAITranscribeModel), "openai"
		} else {
			out.transcriber, out.asr = voice.NewMockTranscriber(), "mock"
		}
	default:
		return voiceSetup{}, fmt.Errorf("invalid ASR_PROVIDER: %q (expected auto|openai|mock)", cfg.ASRProvider)
	}

	elevenLabs := func() voice.Synthesizer {
		return voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			ModelID:      cfg.ElevenLabsTTSModel,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
			DefaultVoice: cfg.ElevenLabsTTSVoice,
		})
	}
	polly := func() voice.Synthesizer {
		return voice.NewPollySynthesizer(withRegion(awsCfg, cfg.PollyRegion), cfg.PollyEngine)
	}
	openAI := func() voice.Synthesizer {
		return voice.NewOpenAISynthesizer(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAITTSModel)
	}

	switch cfg.TTSProvider {
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return voiceSetup{}, fmt.Errorf("TTS_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		out.synthesizer, out.tts = elevenLabs(), "elevenlabs"
	case "polly":
		out.synthesizer, out.tts = polly(), "polly"
	case "openai":
		if !hasOpenAI {
			return voiceSetup{}, fmt.Errorf("TTS_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		out.synthesizer, out.tts = openAI(), "openai"
	case "mock":
		out.synthesizer, out.tts = voice.NewMockSynthesizer(), "mock"
	case "", "auto":
		switch {
		case strings.TrimSpace(cfg.ElevenLabsAPIKey) != "":
			out.synthesizer, out.tts = elevenLabs(), "elevenlabs"
		case awsCredentialsAvailable(ctx, awsCfg):
			out.synthesizer, out.tts = polly(), "polly"
		case hasOpenAI:
			out.synthesizer, out.tts = openAI(), "openai"
		default:
			out.synthesizer, out.tts = voice.NewMockSynthesizer(), "mock"
		}
	default:
		return voiceSetup{}, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|polly|elevenlabs|openai|mock)", cfg.TTSProvider)
	}
	return out, nil
}

func awsCredentialsAvailable(ctx context.Context, awsCfg aws.Config) bool {
	if awsCfg.Credentials == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	return err == nil && creds.HasKeys()
}

// withRegion returns a copy of awsCfg pointed at region when one is given.
func withRegion(awsCfg aws.Config, region string) aws.Config {
	if r := strings.TrimSpace(region); r != "" {
		c := awsCfg.Copy()
		c.Region = r
		return c
	}
	return awsCfg
}
