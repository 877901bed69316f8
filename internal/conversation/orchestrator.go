package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/confidant/internal/blob"
	"github.com/ent0n29/confidant/internal/llm"
	"github.com/ent0n29/confidant/internal/logging"
	"github.com/ent0n29/confidant/internal/memory"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/persona"
	"github.com/ent0n29/confidant/internal/policy"
	"github.com/ent0n29/confidant/internal/reliability"
	"github.com/ent0n29/confidant/internal/session"
	"github.com/ent0n29/confidant/internal/voice"
)

// Timeouts bound each external call. Zero disables the bound.
type Timeouts struct {
	ASR      time.Duration
	LLM      time.Duration
	TTS      time.Duration
	Store    time.Duration
	LockWait time.Duration
}

// Deps are the collaborators of a turn.
type Deps struct {
	Store       memory.Store
	Personas    *persona.Registry
	Transcriber voice.Transcriber
	Generator   llm.Generator
	Synthesizer voice.Synthesizer
	Sink        blob.Sink
	// Locker is optional; nil means turns of one session may interleave.
	Locker  session.Locker
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

type Options struct {
	Timeouts  Timeouts
	RedactPII bool
}

type TurnRequest struct {
	SessionID   string
	PersonaKey  string
	Audio       []byte
	AudioFormat string
}

// Warning is a soft failure that did not stop the turn.
type Warning struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

type TurnResult struct {
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	Reply      string    `json:"reply"`
	AudioURL   string    `json:"audio_url"`
	Warnings   []Warning `json:"warnings,omitempty"`
	Stage      Stage     `json:"stage"`
}

type IntroResult struct {
	Persona  string `json:"persona"`
	Text     string `json:"text"`
	AudioURL string `json:"audio_url"`
}

// Orchestrator runs turns. It holds no per-session state between calls.
type Orchestrator struct {
	deps Deps
	opts Options
	now  func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if deps.Locker == nil {
		deps.Locker = session.NopLocker{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}
}

// ProcessTurn runs one turn. Nothing is retried, and resubmitting the same
// audio appends a second user/assistant pair.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	start := o.now()
	res := TurnResult{SessionID: strings.TrimSpace(req.SessionID), Stage: StageReceived}
	log := o.deps.Logger.With(zap.String("session_id", res.SessionID), zap.String("persona", req.PersonaKey))

	switch {
	case res.SessionID == "":
		return res, o.fail(&res, log, OpValidate, validationError("session id is required"))
	case len(req.Audio) == 0:
		return res, o.fail(&res, log, OpValidate, validationError("audio is required"))
	}

	lockCtx, cancel := withTimeout(ctx, o.opts.Timeouts.LockWait)
	release, err := o.deps.Locker.Acquire(lockCtx, res.SessionID)
	cancel()
	if err != nil {
		return res, o.fail(&res, log, OpLock, err)
	}
	defer release()

	transcript, err := timed(ctx, o.deps.Metrics, OpTranscribe, o.opts.Timeouts.ASR, func(ctx context.Context) (string, error) {
		return o.deps.Transcriber.Transcribe(ctx, req.Audio, req.AudioFormat)
	})
	if err != nil {
		return res, o.fail(&res, log, OpTranscribe, err)
	}
	res.Transcript = strings.TrimSpace(transcript)
	res.Stage = StageTranscribed

	userText := res.Transcript
	if o.opts.RedactPII {
		if r := policy.Redact(userText); r.Changed() {
			userText = r.Text
			log.Info("redacted user turn", zap.Strings("kinds", r.Kinds))
		}
	}

	_, err = timed(ctx, o.deps.Metrics, OpAppendUser, o.opts.Timeouts.Store, func(ctx context.Context) (memory.Turn, error) {
		return o.deps.Store.Append(ctx, res.SessionID, memory.RoleUser, userText)
	})
	if err != nil {
		o.soft(&res, log, OpAppendUser, err)
	}
	res.Stage = StageUserPersisted

	loaded, err := timed(ctx, o.deps.Metrics, OpLoadContext, o.opts.Timeouts.Store, func(ctx context.Context) ([]memory.Turn, error) {
		return o.deps.Store.Load(ctx, res.SessionID)
	})
	if err != nil {
		o.soft(&res, log, OpLoadContext, err)
		loaded = nil
	}
	messages := Assemble(loaded, userText)
	if n := len(messages); n == 0 || messages[n-1].Role != llm.RoleUser || messages[n-1].Content != userText {
		// The stored log is missing this utterance.
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})
	}
	systemPrompt := o.deps.Personas.SystemPrompt(req.PersonaKey)
	res.Stage = StageContextAssembled

	reply, err := timed(ctx, o.deps.Metrics, OpGenerate, o.opts.Timeouts.LLM, func(ctx context.Context) (string, error) {
		return o.deps.Generator.Generate(ctx, systemPrompt, messages)
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		return res, o.fail(&res, log, OpGenerate, err)
	}
	res.Reply = strings.TrimSpace(reply)
	res.Stage = StageReplied

	_, err = timed(ctx, o.deps.Metrics, OpAppendAssistant, o.opts.Timeouts.Store, func(ctx context.Context) (memory.Turn, error) {
		return o.deps.Store.Append(ctx, res.SessionID, memory.RoleAssistant, res.Reply)
	})
	if err != nil {
		o.soft(&res, log, OpAppendAssistant, err)
	}
	res.Stage = StageAssistantPersisted

	url, err := o.speak(ctx, res.Reply, o.deps.Personas.Voice(req.PersonaKey), func(stage Stage) { res.Stage = stage })
	if err != nil {
		return res, o.fail(&res, log, opOf(err), err)
	}
	res.AudioURL = url
	res.Stage = StageCompleted

	if m := o.deps.Metrics; m != nil {
		m.ObserveTurnStage("turn_total", time.Since(start))
		m.Turns.WithLabelValues("ok").Inc()
	}
	log.Info("turn completed",
		zap.Int("context_messages", len(messages)),
		zap.Int("warnings", len(res.Warnings)),
		logging.Since(start),
	)
	return res, nil
}

// Intro synthesizes the persona's greeting. No session is touched.
func (o *Orchestrator) Intro(ctx context.Context, personaKey string) (IntroResult, error) {
	out := IntroResult{Persona: strings.TrimSpace(personaKey), Text: o.deps.Personas.Greeting(personaKey)}
	log := o.deps.Logger.With(zap.String("persona", out.Persona))

	url, err := o.speak(ctx, out.Text, o.deps.Personas.Voice(personaKey), func(Stage) {})
	if err != nil {
		res := TurnResult{Stage: StageReceived}
		return out, o.fail(&res, log, opOf(err), err)
	}
	out.AudioURL = url
	return out, nil
}

// History returns the stored turns of a session.
func (o *Orchestrator) History(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	id := strings.TrimSpace(sessionID)
	if id == "" {
		return nil, validationError("session id is required")
	}
	ctx, cancel := withTimeout(ctx, o.opts.Timeouts.Store)
	defer cancel()
	turns, err := o.deps.Store.Load(ctx, id)
	if err != nil {
		return nil, errors.Join(ErrTransport, err)
	}
	return turns, nil
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

func opOf(err error) string {
	var oe *opError
	if errors.As(err, &oe) {
		return oe.op
	}
	return OpSynthesize
}

// speak synthesizes text and stores the clip, returning its reference.
func (o *Orchestrator) speak(ctx context.Context, text, voiceID string, reached func(Stage)) (string, error) {
	spoken := voice.SpeechText(text)
	if spoken == "" {
		spoken = text
	}
	speech, err := timed(ctx, o.deps.Metrics, OpSynthesize, o.opts.Timeouts.TTS, func(ctx context.Context) (voice.Speech, error) {
		return o.deps.Synthesizer.Synthesize(ctx, spoken, voiceID)
	})
	if err == nil && len(speech.Audio) == 0 {
		err = voice.ErrNoAudio
	}
	if err != nil {
		return "", &opError{op: OpSynthesize, err: err}
	}
	reached(StageSynthesized)

	format := speech.Format
	if format == "" {
		format = "bin"
	}
	name := uuid.NewString() + "." + format
	url, err := timed(ctx, o.deps.Metrics, OpStoreAudio, o.opts.Timeouts.Store, func(ctx context.Context) (string, error) {
		return o.deps.Sink.Put(ctx, name, speech.Audio, speech.ContentType())
	})
	if err != nil {
		return "", &opError{op: OpStoreAudio, err: err}
	}
	return url, nil
}

func (o *Orchestrator) fail(res *TurnResult, log *zap.Logger, op string, err error) error {
	var oe *opError
	if errors.As(err, &oe) {
		err = oe.err
	}
	se := &StageError{Stage: res.Stage, Op: op, Kind: Classify(err), Err: err}
	if m := o.deps.Metrics; m != nil {
		m.Turns.WithLabelValues("failed").Inc()
		m.StageFailures.WithLabelValues(op).Inc()
		if se.Kind == ErrTransport || se.Kind == ErrMalformedResponse {
			m.ProviderErrors.WithLabelValues(op, reliability.Code(err)).Inc()
		}
	}
	level := log.Error
	if se.Kind == ErrValidation {
		level = log.Info
	}
	level("turn failed",
		zap.String("op", op),
		zap.String("stage", string(res.Stage)),
		zap.String("kind", KindCode(se)),
		zap.Error(err),
	)
	return se
}

func (o *Orchestrator) soft(res *TurnResult, log *zap.Logger, op string, err error) {
	res.Warnings = append(res.Warnings, Warning{Stage: op, Detail: err.Error()})
	if m := o.deps.Metrics; m != nil {
		m.StoreSoftFailures.WithLabelValues(op).Inc()
		m.ObserveIndicator(op + "_failed")
	}
	log.Warn("store operation failed; continuing turn", zap.String("op", op), zap.Error(err))
}

// timed runs fn under an optional deadline and records its latency.
func timed[T any](ctx context.Context, m *observability.Metrics, op string, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := withTimeout(ctx, d)
	defer cancel()
	start := time.Now()
	v, err := fn(ctx)
	m.ObserveTurnStage(op, time.Since(start))
	return v, err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
