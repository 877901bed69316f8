package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the conversation service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	LogLevel  string
	LogFormat string
	LogDir    string

	ASRTimeout      time.Duration
	LLMTimeout      time.Duration
	TTSTimeout      time.Duration
	StoreTimeout    time.Duration
	LockWaitTimeout time.Duration
	MaxAudioBytes   int
	RedactPII       bool

	StoreBackend   string
	DatabaseURL    string
	DynamoTable    string
	DynamoEndpoint string
	AWSRegion      string

	LockBackend   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ASRProvider string
	LLMProvider string
	TTSProvider string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIChatModel       string
	OpenAITranscribeModel string
	OpenAITTSModel        string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	BedrockModelID string
	BedrockRegion  string

	GeminiAPIKey string
	GeminiModel  string

	PollyRegion string
	PollyEngine string

	ElevenLabsAPIKey          string
	ElevenLabsWSBaseURL       string
	ElevenLabsTTSVoice        string
	ElevenLabsTTSModel        string
	ElevenLabsTTSOutputFormat string

	LLMMaxTokens   int
	LLMTemperature float64

	BlobBackend      string
	AudioDir         string
	AudioURLPrefix   string
	S3Bucket         string
	S3Prefix         string
	S3PublicBaseURL  string
	PersonaFile      string
	DefaultVoice     string
	DefaultPersonaID string
}

// Load reads a local .env file when present, then environment variables, and
// applies safe defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		BindAddr:                  envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:          envOrDefault("APP_METRICS_NAMESPACE", "confidant"),
		LogLevel:                  envOrDefault("LOG_LEVEL", "info"),
		LogFormat:                 envOrDefault("LOG_FORMAT", "json"),
		LogDir:                    stringsTrimSpace("LOG_DIR"),
		StoreBackend:              strings.ToLower(envOrDefault("STORE_BACKEND", "auto")),
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		DynamoTable:               envOrDefault("DYNAMODB_TABLE", "ConversationTurns"),
		DynamoEndpoint:            stringsTrimSpace("DYNAMODB_ENDPOINT"),
		AWSRegion:                 envOrDefault("AWS_REGION", "us-east-2"),
		LockBackend:               strings.ToLower(envOrDefault("LOCK_BACKEND", "local")),
		RedisAddr:                 stringsTrimSpace("REDIS_ADDR"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		ASRProvider:               strings.ToLower(envOrDefault("ASR_PROVIDER", "auto")),
		LLMProvider:               strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		TTSProvider:               strings.ToLower(envOrDefault("TTS_PROVIDER", "auto")),
		OpenAIAPIKey:              stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:             stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIChatModel:           envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAITranscribeModel:     envOrDefault("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		OpenAITTSModel:            envOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		AnthropicAPIKey:           stringsTrimSpace("ANTHROPIC_API_KEY"),
		AnthropicModel:            envOrDefault("ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		AnthropicBaseURL:          envOrDefault("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		BedrockModelID:            stringsTrimSpace("BEDROCK_MODEL_ID"),
		BedrockRegion:             stringsTrimSpace("BEDROCK_REGION"),
		GeminiAPIKey:              stringsTrimSpace("GEMINI_API_KEY"),
		GeminiModel:               envOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		PollyRegion:               stringsTrimSpace("POLLY_REGION"),
		PollyEngine:               envOrDefault("POLLY_ENGINE", "neural"),
		ElevenLabsAPIKey:          stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsWSBaseURL:       envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSVoice:        stringsTrimSpace("ELEVENLABS_TTS_VOICE_ID"),
		ElevenLabsTTSModel:        envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsTTSOutputFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "pcm_16000"),
		BlobBackend:               strings.ToLower(envOrDefault("BLOB_BACKEND", "local")),
		AudioDir:                  envOrDefault("AUDIO_DIR", "audio"),
		AudioURLPrefix:            envOrDefault("AUDIO_URL_PREFIX", "/audio"),
		S3Bucket:                  stringsTrimSpace("S3_BUCKET"),
		S3Prefix:                  stringsTrimSpace("S3_PREFIX"),
		S3PublicBaseURL:           stringsTrimSpace("S3_PUBLIC_BASE_URL"),
		PersonaFile:               stringsTrimSpace("PERSONA_FILE"),
		DefaultVoice:              envOrDefault("PERSONA_DEFAULT_VOICE", "Joanna"),
		DefaultPersonaID:          envOrDefault("PERSONA_DEFAULT", "Joanna"),
		ShutdownTimeout:           15 * time.Second,
		ASRTimeout:                30 * time.Second,
		LLMTimeout:                45 * time.Second,
		TTSTimeout:                30 * time.Second,
		StoreTimeout:              5 * time.Second,
		LockWaitTimeout:           10 * time.Second,
		MaxAudioBytes:             25 << 20,
		LLMMaxTokens:              512,
		LLMTemperature:            0.7,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_ASR_TIMEOUT", &cfg.ASRTimeout},
		{"APP_LLM_TIMEOUT", &cfg.LLMTimeout},
		{"APP_TTS_TIMEOUT", &cfg.TTSTimeout},
		{"APP_STORE_TIMEOUT", &cfg.StoreTimeout},
		{"APP_LOCK_WAIT_TIMEOUT", &cfg.LockWaitTimeout},
	}
	for _, d := range durations {
		*d.dst, err = durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}

	cfg.MaxAudioBytes, err = intFromEnv("APP_MAX_AUDIO_BYTES", cfg.MaxAudioBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.RedactPII, err = boolFromEnv("APP_REDACT_PII", false)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"APP_ASR_TIMEOUT", c.ASRTimeout},
		{"APP_LLM_TIMEOUT", c.LLMTimeout},
		{"APP_TTS_TIMEOUT", c.TTSTimeout},
		{"APP_STORE_TIMEOUT", c.StoreTimeout},
		{"APP_LOCK_WAIT_TIMEOUT", c.LockWaitTimeout},
	} {
		if d.v <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
	}
	if c.MaxAudioBytes <= 0 {
		return fmt.Errorf("APP_MAX_AUDIO_BYTES must be positive")
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 1 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0,1]")
	}

	if !oneOf(c.StoreBackend, "auto", "memory", "postgres", "dynamodb") {
		return fmt.Errorf("invalid STORE_BACKEND: %q (expected auto|memory|postgres|dynamodb)", c.StoreBackend)
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
	}
	if !oneOf(c.LockBackend, "local", "redis", "none") {
		return fmt.Errorf("invalid LOCK_BACKEND: %q (expected local|redis|none)", c.LockBackend)
	}
	if c.LockBackend == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("LOCK_BACKEND=redis requires REDIS_ADDR")
	}
	if !oneOf(c.BlobBackend, "local", "s3") {
		return fmt.Errorf("invalid BLOB_BACKEND: %q (expected local|s3)", c.BlobBackend)
	}
	if c.BlobBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("BLOB_BACKEND=s3 requires S3_BUCKET")
	}
	if !oneOf(c.ASRProvider, "auto", "openai", "mock") {
		return fmt.Errorf("invalid ASR_PROVIDER: %q (expected auto|openai|mock)", c.ASRProvider)
	}
	if !oneOf(c.LLMProvider, "auto", "bedrock", "anthropic", "openai", "gemini", "mock") {
		return fmt.Errorf("invalid LLM_PROVIDER: %q (expected auto|bedrock|anthropic|openai|gemini|mock)", c.LLMProvider)
	}
	if !oneOf(c.TTSProvider, "auto", "polly", "elevenlabs", "openai", "mock") {
		return fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|polly|elevenlabs|openai|mock)", c.TTSProvider)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
