// Package protocol defines the JSON payloads of the HTTP API.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingAudio   = errors.New("audio is required")
	ErrInvalidPayload = errors.New("invalid payload")
)

// TurnUpload is the JSON alternative to a multipart turn upload.
type TurnUpload struct {
	SessionID   string `json:"session_id"`
	Persona     string `json:"persona"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
}

type Warning struct {
	Stage  string `json:"stage"`
	Detail string `json:"detail"`
}

type TurnResponse struct {
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	Reply      string    `json:"reply"`
	AudioURL   string    `json:"audio_url"`
	Warnings   []Warning `json:"warnings"`
	Stage      string    `json:"stage"`
}

type IntroRequest struct {
	Persona string `json:"persona"`
}

type IntroResponse struct {
	Persona  string `json:"persona"`
	Text     string `json:"text"`
	AudioURL string `json:"audio_url"`
}

type EmotionalTheme struct {
	Theme       string `json:"theme"`
	Description string `json:"description"`
}

type SummaryResponse struct {
	SessionID       string           `json:"session_id"`
	Summary         string           `json:"summary"`
	Tags            []string         `json:"tags"`
	EmotionalThemes []EmotionalTheme `json:"emotional_themes"`
	Title           string           `json:"title"`
}

type TurnRecord struct {
	Seq       int64     `json:"seq"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type TurnsResponse struct {
	SessionID string       `json:"session_id"`
	Turns     []TurnRecord `json:"turns"`
}

type PersonaInfo struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	Voice       string `json:"voice"`
	Greeting    string `json:"greeting"`
}

type PersonaList struct {
	Default  string        `json:"default"`
	Personas []PersonaInfo `json:"personas"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Stage     string `json:"stage,omitempty"`
	Retryable bool   `json:"retryable"`
}

// ParseTurnUpload decodes a JSON turn upload and its base64 audio.
func ParseTurnUpload(raw []byte) (TurnUpload, []byte, error) {
	var msg TurnUpload
	if err := json.Unmarshal(raw, &msg); err != nil {
		return TurnUpload{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	msg.SessionID = strings.TrimSpace(msg.SessionID)
	msg.Persona = strings.TrimSpace(msg.Persona)
	if strings.TrimSpace(msg.AudioBase64) == "" {
		return msg, nil, ErrMissingAudio
	}
	audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
	if err != nil {
		return msg, nil, fmt.Errorf("%w: audio_base64: %v", ErrInvalidPayload, err)
	}
	if len(audio) == 0 {
		return msg, nil, ErrMissingAudio
	}
	return msg, audio, nil
}
