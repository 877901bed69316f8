package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/confidant/internal/reliability"
)

func TestMockTranscriberEchoesText(t *testing.T) {
	tr := NewMockTranscriber()
	got, err := tr.Transcribe(context.Background(), []byte("  Hello there \n"), "txt")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "Hello there" {
		t.Fatalf("Transcribe() = %q, want %q", got, "Hello there")
	}

	got, err = tr.Transcribe(context.Background(), []byte{0xff, 0xfe, 0x00}, "wav")
	if err != nil {
		t.Fatalf("Transcribe(binary) error = %v", err)
	}
	if got != "simulated voice input" {
		t.Fatalf("Transcribe(binary) = %q", got)
	}
}

func TestMockSynthesizerProducesWAV(t *testing.T) {
	sp, err := NewMockSynthesizer().Synthesize(context.Background(), "Hi! Tell me more.", "Joanna")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if sp.Format != "wav" || sp.ContentType() != "audio/wav" {
		t.Fatalf("format = %q content type = %q", sp.Format, sp.ContentType())
	}
	if !bytes.HasPrefix(sp.Audio, []byte("RIFF")) || len(sp.Audio) <= 44 {
		t.Fatalf("audio is not a wav clip (%d bytes)", len(sp.Audio))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockSynthesizer().Synthesize(ctx, "x", ""); !errors.Is(err, context.Canceled) {
		t.Fatalf("Synthesize(canceled) error = %v, want context.Canceled", err)
	}
}

type fakePolly struct {
	calls  int
	texts  []string
	voices []string
	err    error
}

func (f *fakePolly) SynthesizeSpeech(_ context.Context, in *polly.SynthesizeSpeechInput, _ ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, *in.Text)
	f.voices = append(f.voices, string(in.VoiceId))
	return &polly.SynthesizeSpeechOutput{AudioStream: io.NopCloser(strings.NewReader("mp3:" + *in.Text))}, nil
}

func TestPollySynthesizerUsesPersonaVoice(t *testing.T) {
	api := &fakePolly{}
	p := NewPollySynthesizerWithAPI(api, "")
	sp, err := p.Synthesize(context.Background(), "Hi! Tell me more.", "Matthew")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if api.calls != 1 || api.voices[0] != "Matthew" {
		t.Fatalf("calls = %d voices = %v", api.calls, api.voices)
	}
	if sp.Format != "mp3" || string(sp.Audio) != "mp3:Hi! Tell me more." {
		t.Fatalf("speech = %q (%s)", sp.Audio, sp.Format)
	}
}

func TestPollySynthesizerSplitsLongText(t *testing.T) {
	api := &fakePolly{}
	p := NewPollySynthesizerWithAPI(api, "standard")
	text := strings.Repeat("This is a sentence that keeps going. ", 120)
	if _, err := p.Synthesize(context.Background(), text, ""); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if api.calls < 2 {
		t.Fatalf("calls = %d, want text split across requests", api.calls)
	}
	for _, chunk := range api.texts {
		if len(chunk) > pollyMaxChars {
			t.Fatalf("chunk length %d exceeds %d", len(chunk), pollyMaxChars)
		}
	}
	if api.voices[0] != "Joanna" {
		t.Fatalf("default voice = %q, want Joanna", api.voices[0])
	}
}

func TestPollySynthesizerWrapsErrors(t *testing.T) {
	api := &fakePolly{err: errors.New("boom")}
	_, err := NewPollySynthesizerWithAPI(api, "").Synthesize(context.Background(), "hello", "Amy")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("Synthesize() error = %v, want wrapped provider error", err)
	}
}

func TestElevenLabsSynthesizerCollectsAudio(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00}
	upgrader := websocket.Upgrader{}
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		gotPath = r.URL.Path
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// primer, text, and end-of-input
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString(pcm[:4])})
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString(pcm[4:])})
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	}))
	defer srv.Close()

	p := NewElevenLabsSynthesizer(ElevenLabsConfig{
		APIKey:       "k",
		WSBaseURL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		OutputFormat: "pcm_16000",
		VoiceIDs:     map[string]string{"Joanna": "voice-joanna"},
	})
	sp, err := p.Synthesize(context.Background(), "Hi! Tell me more.", "Joanna")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if gotKey != "k" {
		t.Fatalf("xi-api-key = %q", gotKey)
	}
	if gotPath != "/v1/text-to-speech/voice-joanna/stream-input" {
		t.Fatalf("path = %q", gotPath)
	}
	if sp.Format != "wav" || len(sp.Audio) != 44+len(pcm) || !bytes.Equal(sp.Audio[44:], pcm) {
		t.Fatalf("speech format = %q len = %d", sp.Format, len(sp.Audio))
	}
}

func TestElevenLabsSynthesizerReportsErrorFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		_ = conn.WriteJSON(map[string]any{"message_type": "rate_limited", "error": "slow down"})
	}))
	defer srv.Close()

	p := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "k", WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := p.Synthesize(context.Background(), "hello", "")
	if err == nil || !strings.Contains(err.Error(), "slow down") {
		t.Fatalf("Synthesize() error = %v, want error frame", err)
	}
}

func TestElevenLabsSynthesizerDialStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "bad", WSBaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := p.Synthesize(context.Background(), "hello", "")
	var perr *reliability.ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Synthesize() error = %v, want ProviderError 401", err)
	}
}
