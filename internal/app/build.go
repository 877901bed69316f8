package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/ent0n29/confidant/internal/blob"
	"github.com/ent0n29/confidant/internal/config"
	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/httpapi"
	"github.com/ent0n29/confidant/internal/llm"
	"github.com/ent0n29/confidant/internal/memory"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/persona"
	"github.com/ent0n29/confidant/internal/session"
	"github.com/ent0n29/confidant/internal/summary"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *conversation.Orchestrator
	Summarizer   *summary.Summarizer
	Metrics      *observability.Metrics
	Providers    httpapi.Providers

	// Cleanup releases external resources (DB pool, Redis client).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("aws config load failed: %w", err)
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*BuildResult, error) {
		_ = cleanup()
		return nil, err
	}

	store, storeName, err := memory.NewStore(ctx, memory.Config{
		Backend:        cfg.StoreBackend,
		DatabaseURL:    cfg.DatabaseURL,
		DynamoTable:    cfg.DynamoTable,
		DynamoEndpoint: cfg.DynamoEndpoint,
		AWSRegion:      cfg.AWSRegion,
	})
	if err != nil {
		return fail(fmt.Errorf("session store init failed: %w", err))
	}
	closers = append(closers, store.Close)

	locker, lockName, err := buildLocker(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("session lock init failed: %w", err))
	}
	if c, ok := locker.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	sink, err := buildSink(cfg, awsCfg)
	if err != nil {
		return fail(fmt.Errorf("audio sink init failed: %w", err))
	}

	bedrockCfg := withRegion(awsCfg, cfg.BedrockRegion)
	generator, llmName, err := llm.NewGenerator(ctx, llm.Config{
		Mode:             cfg.LLMProvider,
		Params:           llm.Params{MaxTokens: cfg.LLMMaxTokens, Temperature: cfg.LLMTemperature},
		AWS:              &bedrockCfg,
		BedrockModelID:   cfg.BedrockModelID,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicModel:   cfg.AnthropicModel,
		AnthropicBaseURL: cfg.AnthropicBaseURL,
		OpenAIAPIKey:     cfg.OpenAIAPIKey,
		OpenAIBaseURL:    cfg.OpenAIBaseURL,
		OpenAIModel:      cfg.OpenAIChatModel,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GeminiModel:      cfg.GeminiModel,
	})
	if err != nil {
		return fail(fmt.Errorf("generator init failed: %w", err))
	}

	voices, err := resolveVoice(ctx, cfg, awsCfg)
	if err != nil {
		return fail(err)
	}

	personas := persona.NewRegistry(cfg.DefaultVoice)
	if cfg.PersonaFile != "" {
		if err := personas.LoadFile(cfg.PersonaFile); err != nil {
			return fail(fmt.Errorf("persona file load failed: %w", err))
		}
	}

	orchestrator := conversation.NewOrchestrator(conversation.Deps{
		Store:       store,
		Personas:    personas,
		Transcriber: voices.transcriber,
		Generator:   generator,
		Synthesizer: voices.synthesizer,
		Sink:        sink,
		Locker:      locker,
		Metrics:     metrics,
		Logger:      logger.Named("turn"),
	}, conversation.Options{
		Timeouts: conversation.Timeouts{
			ASR:      cfg.ASRTimeout,
			LLM:      cfg.LLMTimeout,
			TTS:      cfg.TTSTimeout,
			Store:    cfg.StoreTimeout,
			LockWait: cfg.LockWaitTimeout,
		},
		RedactPII: cfg.RedactPII,
	})

	summarizer := summary.New(summary.Config{
		Store:        store,
		Generator:    generator,
		Metrics:      metrics,
		Logger:       logger.Named("summary"),
		StoreTimeout: cfg.StoreTimeout,
		LLMTimeout:   cfg.LLMTimeout,
	})

	providers := httpapi.Providers{
		ASR:   voices.asr,
		LLM:   llmName,
		TTS:   voices.tts,
		Store: storeName,
		Lock:  lockName,
		Blob:  cfg.BlobBackend,
	}
	api := httpapi.New(cfg, httpapi.Deps{
		Turns:     orchestrator,
		Summaries: summarizer,
		Personas:  personas,
		Metrics:   metrics,
		Logger:    logger.Named("http"),
		Providers: providers,
	})

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orchestrator,
		Summarizer:   summarizer,
		Metrics:      metrics,
		Providers:    providers,
		Cleanup:      cleanup,
	}, nil
}

func buildLocker(ctx context.Context, cfg config.Config) (session.Locker, string, error) {
	switch cfg.LockBackend {
	case "none":
		return session.NopLocker{}, "none", nil
	case "redis":
		l, err := session.NewRedisLocker(ctx, session.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			// Outlive the slowest possible turn so the lock never lapses mid-turn.
			TTL: cfg.ASRTimeout + cfg.LLMTimeout + cfg.TTSTimeout + 3*cfg.StoreTimeout,
		})
		if err != nil {
			return nil, "", err
		}
		return l, "redis", nil
	default:
		return session.NewLocalLocker(), "local", nil
	}
}

func buildSink(cfg config.Config, awsCfg aws.Config) (blob.Sink, error) {
	switch cfg.BlobBackend {
	case "s3":
		return blob.NewS3Sink(awsCfg, cfg.S3Bucket, cfg.S3Prefix, cfg.S3PublicBaseURL)
	default:
		return blob.NewLocalSink(cfg.AudioDir, cfg.AudioURLPrefix)
	}
}
