// Package summary distills a finished session into a title, tags and the
// emotional themes of the conversation.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/llm"
	"github.com/ent0n29/confidant/internal/logging"
	"github.com/ent0n29/confidant/internal/memory"
	"github.com/ent0n29/confidant/internal/observability"
)

const instructions = `Analyze the conversation below and respond with a single JSON object and nothing else.
The object must have exactly these keys:
  "summary": a short paragraph describing what was discussed,
  "tags": an array of short lowercase topic tags,
  "emotional_themes": an array of objects with "theme" and "description",
  "title": a short title for the conversation.

Conversation:
`

// EmotionalTheme is one emotional thread identified in a conversation.
type EmotionalTheme struct {
	Theme       string `json:"theme"`
	Description string `json:"description"`
}

// Result is the structured analysis of a session.
type Result struct {
	Summary         string           `json:"summary"`
	Tags            []string         `json:"tags"`
	EmotionalThemes []EmotionalTheme `json:"emotional_themes"`
	Title           string           `json:"title"`
}

var requiredKeys = []string{"summary", "tags", "emotional_themes", "title"}

type Config struct {
	Store        memory.Store
	Generator    llm.Generator
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	StoreTimeout time.Duration
	LLMTimeout   time.Duration
}

// Summarizer makes exactly one generation call per request.
type Summarizer struct {
	cfg Config
}

func New(cfg Config) *Summarizer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Summarizer{cfg: cfg}
}

func (s *Summarizer) Summarize(ctx context.Context, sessionID string) (Result, error) {
	start := time.Now()
	id := strings.TrimSpace(sessionID)
	log := s.cfg.Logger.With(zap.String("session_id", id))
	if id == "" {
		return Result{}, s.done(fmt.Errorf("%w: session id is required", conversation.ErrValidation))
	}

	loadCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	turns, err := s.cfg.Store.Load(loadCtx, id)
	cancel()
	if err != nil {
		log.Error("load transcript failed", zap.Error(err))
		return Result{}, s.done(errors.Join(conversation.ErrTransport, err))
	}
	if len(turns) == 0 {
		return Result{}, s.done(fmt.Errorf("%w: session %q has no turns", conversation.ErrNotFound, id))
	}

	prompt := instructions + Flatten(turns)
	genCtx, cancel := withTimeout(ctx, s.cfg.LLMTimeout)
	raw, err := s.cfg.Generator.Generate(genCtx, "", []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	cancel()
	if err != nil {
		log.Error("summary generation failed", zap.Error(err))
		return Result{}, s.done(errors.Join(conversation.Classify(err), err))
	}

	res, err := Parse(raw)
	if err != nil {
		log.Error("summary parse failed", zap.Error(err), zap.String("raw", raw))
		return Result{}, s.done(err)
	}
	log.Info("session summarized",
		zap.Int("turns", len(turns)),
		zap.Int("tags", len(res.Tags)),
		logging.Since(start),
	)
	s.cfg.Metrics.ObserveTurnStage("summarize_total", time.Since(start))
	return res, s.done(nil)
}

func (s *Summarizer) done(err error) error {
	if s.cfg.Metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = conversation.KindCode(err)
		}
		s.cfg.Metrics.Summaries.WithLabelValues(outcome).Inc()
	}
	return err
}

// Flatten renders turns as "Role: message" lines, each newline terminated.
func Flatten(turns []memory.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(capitalize(string(t.Role)))
		b.WriteString(": ")
		b.WriteString(t.Message)
		b.WriteByte('\n')
	}
	return b.String()
}

func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

// ExtractPayload strips a markdown code fence around a model's JSON answer.
// The opening fence and any language tag after it are dropped, and every closing
// fence marker is removed.
func ExtractPayload(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimLeftFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// Parse decodes a model answer into a Result. All four keys must be present.
func Parse(raw string) (Result, error) {
	payload := ExtractPayload(raw)

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &keys); err != nil {
		return Result{}, fmt.Errorf("%w: %v", conversation.ErrParse, err)
	}
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			return Result{}, fmt.Errorf("%w: missing field %q", conversation.ErrParse, k)
		}
	}

	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return Result{}, fmt.Errorf("%w: %v", conversation.ErrParse, err)
	}
	if res.Tags == nil {
		res.Tags = []string{}
	}
	if res.EmotionalThemes == nil {
		res.EmotionalThemes = []EmotionalTheme{}
	}
	return res, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
