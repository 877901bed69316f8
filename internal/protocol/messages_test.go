package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseTurnUpload(t *testing.T) {
	raw := []byte(`{"session_id":" s1 ","persona":"Joanna","audio_base64":"SGVsbG8gdGhlcmU=","format":"wav"}`)
	msg, audio, err := ParseTurnUpload(raw)
	if err != nil {
		t.Fatalf("ParseTurnUpload() error = %v", err)
	}
	if msg.SessionID != "s1" || msg.Persona != "Joanna" || msg.Format != "wav" {
		t.Fatalf("unexpected upload: %+v", msg)
	}
	if string(audio) != "Hello there" {
		t.Fatalf("audio = %q, want %q", audio, "Hello there")
	}
}

func TestParseTurnUploadRejectsMissingAudio(t *testing.T) {
	_, _, err := ParseTurnUpload([]byte(`{"session_id":"s1"}`))
	if !errors.Is(err, ErrMissingAudio) {
		t.Fatalf("error = %v, want ErrMissingAudio", err)
	}
}

func TestParseTurnUploadRejectsBadPayload(t *testing.T) {
	for _, raw := range []string{`{`, `{"audio_base64":"%%%"}`} {
		if _, _, err := ParseTurnUpload([]byte(raw)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("ParseTurnUpload(%s) error = %v, want ErrInvalidPayload", raw, err)
		}
	}
}

func TestErrorResponseOmitsEmptyStage(t *testing.T) {
	out, err := json.Marshal(ErrorResponse{Error: "audio is required", Code: "validation_error"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(out), "stage") || !strings.Contains(string(out), `"retryable":false`) {
		t.Fatalf("unexpected error body: %s", out)
	}
}
