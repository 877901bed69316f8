package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/confidant/internal/audio"
	"github.com/ent0n29/confidant/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	ModelID      string
	OutputFormat string
	// VoiceIDs maps persona voice names to ElevenLabs voice ids.
	VoiceIDs     map[string]string
	DefaultVoice string
}

// ElevenLabsSynthesizer renders a full reply over the stream-input websocket and
// collects audio until the server marks the stream final.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if strings.TrimSpace(cfg.DefaultVoice) == "" {
		// Premade warm female voice.
		cfg.DefaultVoice = "cgSgspJ2msm6clMCkdW9"
	}
	return &ElevenLabsSynthesizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *ElevenLabsSynthesizer) voiceFor(voiceID string) string {
	if id, ok := p.cfg.VoiceIDs[strings.TrimSpace(voiceID)]; ok && id != "" {
		return id
	}
	// Polly-style names are not ElevenLabs ids.
	if v := strings.TrimSpace(voiceID); v != "" && len(v) >= 20 {
		return v
	}
	return p.cfg.DefaultVoice
}

func (p *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (Speech, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Speech{}, fmt.Errorf("elevenlabs: empty text")
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(p.voiceFor(voiceID)) + "/stream-input")
	if err != nil {
		return Speech{}, err
	}
	q := u.Query()
	q.Set("model_id", p.cfg.ModelID)
	q.Set("output_format", p.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, res, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if res != nil {
			return Speech{}, fmt.Errorf("dial tts websocket: %w", &reliability.ProviderError{Provider: "elevenlabs", StatusCode: res.StatusCode})
		}
		return Speech{}, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the caller's deadline passes.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for _, msg := range []map[string]any{
		{"text": " ", "voice_settings": map[string]any{"stability": 0.42, "similarity_boost": 0.85, "speed": 1.0}},
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	} {
		if err := conn.WriteJSON(msg); err != nil {
			return Speech{}, fmt.Errorf("write tts websocket: %w", err)
		}
	}

	var clip bytes.Buffer
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Speech{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && clip.Len() > 0 {
				break
			}
			return Speech{}, fmt.Errorf("read tts websocket: %w", err)
		}
		var frame struct {
			Audio       string `json:"audio"`
			IsFinal     bool   `json:"isFinal"`
			Error       string `json:"error"`
			MessageType string `json:"message_type"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			return Speech{}, fmt.Errorf("elevenlabs %s: %s (retryable=%v)", frame.MessageType, frame.Error,
				reliability.IsRetryableRealtimeMessageType(frame.MessageType))
		}
		if frame.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return Speech{}, fmt.Errorf("decode tts audio: %w", err)
			}
			clip.Write(chunk)
		}
		if frame.IsFinal {
			break
		}
	}

	if clip.Len() == 0 {
		return Speech{}, ErrNoAudio
	}
	if rate, ok := audio.ParsePCMFormat(p.cfg.OutputFormat); ok {
		wav, err := audio.EncodeWAVPCM16LE(clip.Bytes(), rate)
		if err != nil {
			return Speech{}, err
		}
		return Speech{Audio: wav, Format: "wav"}, nil
	}
	return Speech{Audio: clip.Bytes(), Format: audio.Extension(p.cfg.OutputFormat)}, nil
}
