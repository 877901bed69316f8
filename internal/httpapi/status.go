package httpapi

import (
	"net/http"
	"strings"
)

// Providers names the backend resolved for each collaborator at startup.
type Providers struct {
	ASR   string `json:"asr"`
	LLM   string `json:"llm"`
	TTS   string `json:"tts"`
	Store string `json:"store"`
	Lock  string `json:"lock"`
	Blob  string `json:"blob"`
}

type statusCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type statusResponse struct {
	Providers Providers     `json:"providers"`
	RedactPII bool          `json:"redact_pii"`
	Checks    []statusCheck `json:"checks"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	p := s.providers
	checks := make([]statusCheck, 0, 6)

	provider := func(id, label, value, fix string) {
		if strings.EqualFold(value, "mock") {
			checks = append(checks, statusCheck{ID: id, Status: "warn", Label: label, Detail: "mock", Fix: fix})
			return
		}
		checks = append(checks, statusCheck{ID: id, Status: "ok", Label: label, Detail: value})
	}
	provider("asr", "Speech-to-text", p.ASR, "Set OPENAI_API_KEY or ASR_PROVIDER=openai.")
	provider("llm", "Reply generation", p.LLM, "Set BEDROCK_MODEL_ID, ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY.")
	provider("tts", "Text-to-speech", p.TTS, "Set TTS_PROVIDER=polly with AWS credentials, or ELEVENLABS_API_KEY.")

	switch p.Store {
	case "memory":
		checks = append(checks, statusCheck{
			ID:     "store",
			Status: "warn",
			Label:  "Session store",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or STORE_BACKEND=dynamodb to keep transcripts across restarts.",
		})
	default:
		checks = append(checks, statusCheck{ID: "store", Status: "ok", Label: "Session store", Detail: p.Store})
	}

	switch p.Lock {
	case "none":
		checks = append(checks, statusCheck{
			ID:     "lock",
			Status: "warn",
			Label:  "Session lock",
			Detail: "disabled",
			Fix:    "Set LOCK_BACKEND=local (single instance) or redis (shared).",
		})
	default:
		checks = append(checks, statusCheck{ID: "lock", Status: "ok", Label: "Session lock", Detail: p.Lock})
	}
	checks = append(checks, statusCheck{ID: "blob", Status: "ok", Label: "Reply audio", Detail: p.Blob})

	respondJSON(w, http.StatusOK, statusResponse{
		Providers: p,
		RedactPII: s.cfg.RedactPII,
		Checks:    checks,
	})
}
