package voice

import (
	"context"
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/confidant/internal/audio"
)

const mockSampleRate = 16000

// MockTranscriber is a local fallback used when no ASR provider is configured.
// Clips that are valid UTF-8 text are echoed back so text files can stand in
// for recordings during development.
type MockTranscriber struct{}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

func (m *MockTranscriber) Transcribe(ctx context.Context, clip []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(clip) > 0 && utf8.Valid(clip) && !strings.HasPrefix(string(clip), "RIFF") {
		return strings.TrimSpace(string(clip)), nil
	}
	return "simulated voice input", nil
}

// MockSynthesizer renders a short tone whose length tracks the text, wrapped as WAV.
type MockSynthesizer struct{}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) Synthesize(ctx context.Context, text, _ string) (Speech, error) {
	if err := ctx.Err(); err != nil {
		return Speech{}, err
	}
	// 40ms of audio per word with a 200ms floor.
	words := len(strings.Fields(text))
	samples := mockSampleRate / 5
	if n := words * mockSampleRate / 25; n > samples {
		samples = n
	}
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(0)
		if (i/20)%2 == 0 {
			v = 1200
		} else {
			v = -1200
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, mockSampleRate)
	if err != nil {
		return Speech{}, err
	}
	return Speech{Audio: wav, Format: "wav"}, nil
}
