package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ent0n29/confidant/internal/llm"
	"github.com/ent0n29/confidant/internal/memory"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/persona"
	"github.com/ent0n29/confidant/internal/reliability"
	"github.com/ent0n29/confidant/internal/session"
	"github.com/ent0n29/confidant/internal/voice"
)

type stubTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (s *stubTranscriber) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.text != "" {
		return s.text, nil
	}
	return string(audio), nil
}

type stubGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	calls    int
	system   string
	messages []llm.Message
	delay    time.Duration
}

func (g *stubGenerator) Generate(ctx context.Context, systemPrompt string, messages []llm.Message) (string, error) {
	g.mu.Lock()
	g.calls++
	g.system = systemPrompt
	g.messages = append([]llm.Message(nil), messages...)
	delay, reply, err := g.delay, g.reply, g.err
	g.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

type stubSynthesizer struct {
	mu     sync.Mutex
	err    error
	calls  int
	voices []string
	texts  []string
}

func (s *stubSynthesizer) Synthesize(_ context.Context, text, voiceID string) (voice.Speech, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.voices = append(s.voices, voiceID)
	s.texts = append(s.texts, text)
	if s.err != nil {
		return voice.Speech{}, s.err
	}
	return voice.Speech{Audio: []byte("ID3" + text), Format: "mp3"}, nil
}

type stubSink struct {
	mu    sync.Mutex
	err   error
	names []string
}

func (s *stubSink) Put(_ context.Context, name string, _ []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.names = append(s.names, name)
	return "/audio/" + name, nil
}

// faultyStore wraps the in-memory store and can fail selected operations.
type faultyStore struct {
	*memory.InMemoryStore
	mu          sync.Mutex
	failAppend  map[memory.Role]bool
	failLoad    bool
	appendCalls map[memory.Role]int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		InMemoryStore: memory.NewInMemoryStore(),
		failAppend:    map[memory.Role]bool{},
		appendCalls:   map[memory.Role]int{},
	}
}

func (s *faultyStore) Append(ctx context.Context, sessionID string, role memory.Role, message string) (memory.Turn, error) {
	s.mu.Lock()
	s.appendCalls[role]++
	fail := s.failAppend[role]
	s.mu.Unlock()
	if fail {
		return memory.Turn{}, errors.New("store unavailable")
	}
	return s.InMemoryStore.Append(ctx, sessionID, role, message)
}

func (s *faultyStore) Load(ctx context.Context, sessionID string) ([]memory.Turn, error) {
	if s.failLoad {
		return nil, errors.New("store unavailable")
	}
	return s.InMemoryStore.Load(ctx, sessionID)
}

type fixture struct {
	store *faultyStore
	asr   *stubTranscriber
	gen   *stubGenerator
	tts   *stubSynthesizer
	sink  *stubSink
	logs  *observer.ObservedLogs
	orch  *Orchestrator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		store: newFaultyStore(),
		asr:   &stubTranscriber{},
		gen:   &stubGenerator{reply: "Hi! Tell me more."},
		tts:   &stubSynthesizer{},
		sink:  &stubSink{},
		logs:  logs,
	}
	f.orch = NewOrchestrator(Deps{
		Store:       f.store,
		Personas:    persona.NewRegistry("Joanna"),
		Transcriber: f.asr,
		Generator:   f.gen,
		Synthesizer: f.tts,
		Sink:        f.sink,
		Locker:      session.NewLocalLocker(),
		Metrics:     observability.NewMetrics(fmt.Sprintf("test_conversation_%d", time.Now().UnixNano())),
		Logger:      zap.New(core),
	}, opts)
	return f
}

func (f *fixture) turn(t *testing.T, sessionID, text string) TurnResult {
	t.Helper()
	res, err := f.orch.ProcessTurn(context.Background(), TurnRequest{
		SessionID:   sessionID,
		PersonaKey:  "Joanna",
		Audio:       []byte(text),
		AudioFormat: "wav",
	})
	if err != nil {
		t.Fatalf("ProcessTurn(%q) error = %v", text, err)
	}
	return res
}

func TestProcessTurnFirstTurn(t *testing.T) {
	f := newFixture(t, Options{})
	res := f.turn(t, "s1", "Hello there")

	if res.Transcript != "Hello there" || res.Reply != "Hi! Tell me more." {
		t.Fatalf("result = %+v", res)
	}
	if res.Stage != StageCompleted || len(res.Warnings) != 0 {
		t.Fatalf("stage = %s warnings = %v", res.Stage, res.Warnings)
	}
	if !strings.HasPrefix(res.AudioURL, "/audio/") || !strings.HasSuffix(res.AudioURL, ".mp3") {
		t.Fatalf("AudioURL = %q", res.AudioURL)
	}

	if len(f.gen.messages) != 1 || f.gen.messages[0] != (llm.Message{Role: llm.RoleUser, Content: "Hello there"}) {
		t.Fatalf("generation context = %+v, want only the current utterance", f.gen.messages)
	}
	want := persona.NewRegistry("Joanna").SystemPrompt("Joanna")
	if f.gen.system != want {
		t.Fatalf("system prompt = %q, want %q", f.gen.system, want)
	}
	if f.tts.voices[0] != "Joanna" {
		t.Fatalf("voice = %q, want Joanna", f.tts.voices[0])
	}

	turns, _ := f.store.Load(context.Background(), "s1")
	if len(turns) != 2 || turns[0].Role != memory.RoleUser || turns[0].Message != "Hello there" ||
		turns[1].Role != memory.RoleAssistant || turns[1].Message != "Hi! Tell me more." {
		t.Fatalf("stored turns = %+v", turns)
	}
}

func TestProcessTurnSecondTurnCarriesHistory(t *testing.T) {
	f := newFixture(t, Options{})
	f.turn(t, "s1", "Hello there")
	f.gen.reply = "Where do you like to hike?"
	f.turn(t, "s1", "I like hiking")

	want := []llm.Message{
		{Role: llm.RoleUser, Content: "Hello there"},
		{Role: llm.RoleAssistant, Content: "Hi! Tell me more."},
		{Role: llm.RoleUser, Content: "I like hiking"},
	}
	if len(f.gen.messages) != len(want) {
		t.Fatalf("len(messages) = %d, want %d: %+v", len(f.gen.messages), len(want), f.gen.messages)
	}
	for i := range want {
		if f.gen.messages[i] != want[i] {
			t.Fatalf("messages[%d] = %+v, want %+v", i, f.gen.messages[i], want[i])
		}
	}
}

func TestProcessTurnGenerationFailureSkipsAssistantAppend(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.err = &reliability.ProviderError{Provider: "bedrock", StatusCode: 503}

	res, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", PersonaKey: "Joanna", Audio: []byte("Hello there")})
	if err == nil {
		t.Fatalf("ProcessTurn() error = nil, want generation failure")
	}
	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("ProcessTurn() error = %T, want *StageError", err)
	}
	if se.Op != OpGenerate || se.Stage != StageContextAssembled || !errors.Is(err, ErrTransport) {
		t.Fatalf("StageError = %+v", se)
	}
	if !se.Retryable() {
		t.Fatalf("Retryable() = false, want true for 503")
	}
	if res.Stage != StageContextAssembled {
		t.Fatalf("res.Stage = %s", res.Stage)
	}
	if f.store.appendCalls[memory.RoleAssistant] != 0 {
		t.Fatalf("assistant append calls = %d, want 0", f.store.appendCalls[memory.RoleAssistant])
	}
	if f.tts.calls != 0 {
		t.Fatalf("synthesize calls = %d, want 0", f.tts.calls)
	}
	turns, _ := f.store.Load(context.Background(), "s1")
	if len(turns) != 1 || turns[0].Role != memory.RoleUser {
		t.Fatalf("stored turns = %+v, want only the user turn", turns)
	}
}

func TestProcessTurnEmptyReplyIsMalformed(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.reply = "   "
	_, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Audio: []byte("Hello there")})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("ProcessTurn() error = %v, want ErrMalformedResponse", err)
	}
	if f.store.appendCalls[memory.RoleAssistant] != 0 {
		t.Fatalf("assistant append happened after empty reply")
	}
}

func TestProcessTurnUserAppendFailureIsSoft(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.failAppend[memory.RoleUser] = true

	res := f.turn(t, "s1", "Hello there")
	if res.Reply != "Hi! Tell me more." || res.AudioURL == "" {
		t.Fatalf("result = %+v, want reply and audio despite store failure", res)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Stage != OpAppendUser {
		t.Fatalf("warnings = %+v", res.Warnings)
	}
	if len(f.gen.messages) != 1 || f.gen.messages[0].Content != "Hello there" {
		t.Fatalf("generation context = %+v, want current utterance", f.gen.messages)
	}
	if n := f.logs.FilterMessage("store operation failed; continuing turn").Len(); n != 1 {
		t.Fatalf("soft failure logs = %d, want 1", n)
	}
}

func TestProcessTurnUserAppendFailureKeepsUtteranceInContext(t *testing.T) {
	f := newFixture(t, Options{})
	f.turn(t, "s1", "Hello there")

	f.store.failAppend[memory.RoleUser] = true
	res := f.turn(t, "s1", "I like hiking")
	if len(res.Warnings) != 1 || res.Warnings[0].Stage != OpAppendUser {
		t.Fatalf("warnings = %+v", res.Warnings)
	}
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "Hello there"},
		{Role: llm.RoleAssistant, Content: "Hi! Tell me more."},
		{Role: llm.RoleUser, Content: "I like hiking"},
	}
	if len(f.gen.messages) != len(want) {
		t.Fatalf("generation context = %+v, want %+v", f.gen.messages, want)
	}
	for i := range want {
		if f.gen.messages[i] != want[i] {
			t.Fatalf("messages[%d] = %+v, want %+v", i, f.gen.messages[i], want[i])
		}
	}
}

func TestProcessTurnWithoutMetrics(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.deps.Metrics = nil

	res := f.turn(t, "s1", "Hello there")
	if res.Stage != StageCompleted || res.AudioURL == "" {
		t.Fatalf("result = %+v", res)
	}
	f.gen.err = errors.New("boom")
	if _, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Audio: []byte("again"), AudioFormat: "wav"}); err == nil {
		t.Fatalf("ProcessTurn() error = nil, want generation failure")
	}
}

func TestProcessTurnAssistantAppendAndLoadFailuresAreSoft(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.failAppend[memory.RoleAssistant] = true
	f.store.failLoad = true

	res := f.turn(t, "s1", "Hello there")
	if res.Stage != StageCompleted || len(res.Warnings) != 2 {
		t.Fatalf("stage = %s warnings = %+v", res.Stage, res.Warnings)
	}
	if res.Warnings[0].Stage != OpLoadContext || res.Warnings[1].Stage != OpAppendAssistant {
		t.Fatalf("warnings = %+v", res.Warnings)
	}
}

func TestProcessTurnSynthesisFailureIsFatal(t *testing.T) {
	f := newFixture(t, Options{})
	f.tts.err = errors.New("tts down")

	res, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Audio: []byte("Hello there")})
	var se *StageError
	if !errors.As(err, &se) || se.Op != OpSynthesize || se.Stage != StageAssistantPersisted {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if res.Reply != "Hi! Tell me more." {
		t.Fatalf("Reply = %q", res.Reply)
	}
	turns, _ := f.store.Load(context.Background(), "s1")
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want the assistant turn persisted before synthesis", len(turns))
	}
}

func TestProcessTurnBlobFailureIsFatal(t *testing.T) {
	f := newFixture(t, Options{})
	f.sink.err = errors.New("disk full")

	_, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Audio: []byte("Hello there")})
	var se *StageError
	if !errors.As(err, &se) || se.Op != OpStoreAudio || se.Stage != StageSynthesized {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
}

func TestProcessTurnTranscriptionFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.asr.err = context.DeadlineExceeded

	_, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Audio: []byte("x")})
	var se *StageError
	if !errors.As(err, &se) || se.Op != OpTranscribe || se.Stage != StageReceived {
		t.Fatalf("ProcessTurn() error = %v", err)
	}
	if !errors.Is(err, ErrTransport) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error kind = %v", err)
	}
	if f.gen.calls != 0 || f.store.appendCalls[memory.RoleUser] != 0 {
		t.Fatalf("pipeline continued after transcription failure")
	}
}

func TestProcessTurnValidation(t *testing.T) {
	f := newFixture(t, Options{})
	cases := []TurnRequest{
		{SessionID: "", Audio: []byte("x")},
		{SessionID: "s1"},
	}
	for _, req := range cases {
		_, err := f.orch.ProcessTurn(context.Background(), req)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("ProcessTurn(%+v) error = %v, want ErrValidation", req, err)
		}
	}
	if f.asr.calls != 0 {
		t.Fatalf("transcribe calls = %d, want 0", f.asr.calls)
	}
}

func TestProcessTurnGenerationTimeout(t *testing.T) {
	f := newFixture(t, Options{Timeouts: Timeouts{LLM: 20 * time.Millisecond}})
	f.gen.delay = time.Second

	_, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Audio: []byte("Hello there")})
	if !errors.Is(err, context.DeadlineExceeded) || !errors.Is(err, ErrTransport) {
		t.Fatalf("ProcessTurn() error = %v, want deadline transport error", err)
	}
}

func TestProcessTurnResubmissionAppendsTwice(t *testing.T) {
	f := newFixture(t, Options{})
	f.turn(t, "s1", "Hello there")
	f.turn(t, "s1", "Hello there")

	turns, _ := f.store.Load(context.Background(), "s1")
	if len(turns) != 4 {
		t.Fatalf("len(turns) = %d, want 4", len(turns))
	}
}

func TestProcessTurnSerializesSameSession(t *testing.T) {
	f := newFixture(t, Options{})
	f.gen.delay = 5 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.orch.ProcessTurn(context.Background(), TurnRequest{SessionID: "s1", Audio: []byte(fmt.Sprintf("msg %d", i))})
			if err != nil {
				t.Errorf("ProcessTurn() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	turns, _ := f.store.Load(context.Background(), "s1")
	if len(turns) != 8 {
		t.Fatalf("len(turns) = %d, want 8", len(turns))
	}
	for i := 0; i < len(turns); i += 2 {
		if turns[i].Role != memory.RoleUser || turns[i+1].Role != memory.RoleAssistant {
			t.Fatalf("turns %d/%d interleaved: %s then %s", i, i+1, turns[i].Role, turns[i+1].Role)
		}
	}
}

func TestProcessTurnRedactsStoredText(t *testing.T) {
	f := newFixture(t, Options{RedactPII: true})
	res := f.turn(t, "s1", "mail me at sam@example.com")

	if res.Transcript != "mail me at sam@example.com" {
		t.Fatalf("Transcript = %q, want raw transcript", res.Transcript)
	}
	turns, _ := f.store.Load(context.Background(), "s1")
	if !strings.Contains(turns[0].Message, "[REDACTED_EMAIL]") {
		t.Fatalf("stored message = %q, want redacted", turns[0].Message)
	}
	if strings.Contains(f.gen.messages[0].Content, "sam@example.com") {
		t.Fatalf("model saw unredacted text: %q", f.gen.messages[0].Content)
	}
}

func TestIntro(t *testing.T) {
	f := newFixture(t, Options{})
	out, err := f.orch.Intro(context.Background(), "Matthew")
	if err != nil {
		t.Fatalf("Intro() error = %v", err)
	}
	if out.AudioURL == "" || !strings.Contains(out.Text, "Matthew") {
		t.Fatalf("Intro() = %+v", out)
	}
	if f.tts.voices[0] != "Matthew" {
		t.Fatalf("voice = %q", f.tts.voices[0])
	}
	if f.store.appendCalls[memory.RoleUser]+f.store.appendCalls[memory.RoleAssistant] != 0 {
		t.Fatalf("Intro() touched the store")
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t, Options{})
	f.turn(t, "s1", "Hello there")
	turns, err := f.orch.History(context.Background(), "s1")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if _, err := f.orch.History(context.Background(), " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("History(empty) error = %v, want ErrValidation", err)
	}
}
