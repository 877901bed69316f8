package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/confidant/internal/blob"
	"github.com/ent0n29/confidant/internal/config"
	"github.com/ent0n29/confidant/internal/conversation"
	"github.com/ent0n29/confidant/internal/memory"
	"github.com/ent0n29/confidant/internal/observability"
	"github.com/ent0n29/confidant/internal/persona"
	"github.com/ent0n29/confidant/internal/protocol"
	"github.com/ent0n29/confidant/internal/session"
	"github.com/ent0n29/confidant/internal/summary"
)

// multipartMemory is the in-memory budget before multipart parts spill to disk.
const multipartMemory = 8 << 20

type TurnService interface {
	ProcessTurn(ctx context.Context, req conversation.TurnRequest) (conversation.TurnResult, error)
	Intro(ctx context.Context, personaKey string) (conversation.IntroResult, error)
	History(ctx context.Context, sessionID string) ([]memory.Turn, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, sessionID string) (summary.Result, error)
}

// Deps are the handlers' collaborators. Providers is reported by /v1/status.
type Deps struct {
	Turns     TurnService
	Summaries Summarizer
	Personas  *persona.Registry
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	Providers Providers
}

type Server struct {
	cfg       config.Config
	turns     TurnService
	summaries Summarizer
	personas  *persona.Registry
	metrics   *observability.Metrics
	logger    *zap.Logger
	providers Providers
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	personas := deps.Personas
	if personas == nil {
		personas = persona.NewRegistry(cfg.DefaultVoice)
	}
	return &Server{
		cfg:       cfg,
		turns:     deps.Turns,
		summaries: deps.Summaries,
		personas:  personas,
		metrics:   deps.Metrics,
		logger:    logger,
		providers: deps.Providers,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/status", s.handleStatus)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/turns", s.handleTurn)
	r.Post("/v1/intro", s.handleIntro)
	r.Get("/v1/personas", s.handleListPersonas)
	r.Get("/v1/sessions/{id}/turns", s.handleListTurns)
	r.Post("/v1/sessions/{id}/end", s.handleEndSession)

	if strings.EqualFold(s.cfg.BlobBackend, "local") && strings.TrimSpace(s.cfg.AudioDir) != "" {
		prefix := "/" + strings.Trim(s.cfg.AudioURLPrefix, "/")
		if prefix == "/" {
			prefix = "/audio"
		}
		r.Get(prefix+"/{name}", s.handleAudio)
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.turns == nil || s.summaries == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "conversation pipeline not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
		"store":  s.providers.Store,
		"llm":    s.providers.LLM,
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn pipeline not configured")
		return
	}
	if s.cfg.MaxAudioBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(s.cfg.MaxAudioBytes))
	}

	req, err := readTurnRequest(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			respondError(w, http.StatusRequestEntityTooLarge, "audio_too_large", fmt.Sprintf("audio exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, protocol.ErrMissingAudio):
			respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		default:
			respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		}
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.PersonaKey == "" {
		req.PersonaKey = s.cfg.DefaultPersonaID
	}

	res, err := s.turns.ProcessTurn(r.Context(), req)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	warnings := make([]protocol.Warning, 0, len(res.Warnings))
	for _, wn := range res.Warnings {
		warnings = append(warnings, protocol.Warning{Stage: wn.Stage, Detail: wn.Detail})
	}
	respondJSON(w, http.StatusOK, protocol.TurnResponse{
		SessionID:  res.SessionID,
		Transcript: res.Transcript,
		Reply:      res.Reply,
		AudioURL:   res.AudioURL,
		Warnings:   warnings,
		Stage:      string(res.Stage),
	})
}

// readTurnRequest accepts multipart uploads, JSON with base64 audio, or a raw
// audio body with session_id and persona in the query string.
func readTurnRequest(r *http.Request) (conversation.TurnRequest, error) {
	q := r.URL.Query()
	req := conversation.TurnRequest{
		SessionID:   strings.TrimSpace(q.Get("session_id")),
		PersonaKey:  strings.TrimSpace(q.Get("persona")),
		AudioFormat: strings.TrimSpace(q.Get("format")),
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return req, err
		}
		if v := strings.TrimSpace(r.FormValue("session_id")); v != "" {
			req.SessionID = v
		}
		if v := strings.TrimSpace(r.FormValue("persona")); v != "" {
			req.PersonaKey = v
		}
		if v := strings.TrimSpace(r.FormValue("format")); v != "" {
			req.AudioFormat = v
		}
		file, header, err := r.FormFile("audio")
		if err != nil {
			if errors.Is(err, http.ErrMissingFile) {
				return req, protocol.ErrMissingAudio
			}
			return req, err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return req, err
		}
		req.Audio = data
		if req.AudioFormat == "" {
			req.AudioFormat = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
		}
	case mediaType == "application/json":
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return req, err
		}
		msg, audio, err := protocol.ParseTurnUpload(body)
		if err != nil {
			return req, err
		}
		if msg.SessionID != "" {
			req.SessionID = msg.SessionID
		}
		if msg.Persona != "" {
			req.PersonaKey = msg.Persona
		}
		if msg.Format != "" {
			req.AudioFormat = msg.Format
		}
		req.Audio = audio
	default:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return req, err
		}
		req.Audio = data
		if req.AudioFormat == "" {
			req.AudioFormat = formatFromMediaType(mediaType)
		}
	}

	if len(req.Audio) == 0 {
		return req, protocol.ErrMissingAudio
	}
	return req, nil
}

func formatFromMediaType(mediaType string) string {
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "m4a"
	case "audio/flac":
		return "flac"
	default:
		return ""
	}
}

func (s *Server) handleIntro(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn pipeline not configured")
		return
	}
	var req protocol.IntroRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	key := strings.TrimSpace(req.Persona)
	if key == "" {
		key = s.cfg.DefaultPersonaID
	}

	out, err := s.turns.Intro(r.Context(), key)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, protocol.IntroResponse{Persona: out.Persona, Text: out.Text, AudioURL: out.AudioURL})
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.turns == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn pipeline not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	turns, err := s.turns.History(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	records := make([]protocol.TurnRecord, 0, len(turns))
	for _, t := range turns {
		records = append(records, protocol.TurnRecord{Seq: t.Seq, Role: string(t.Role), Message: t.Message, Timestamp: t.Timestamp})
	}
	respondJSON(w, http.StatusOK, protocol.TurnsResponse{SessionID: id, Turns: records})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if s.summaries == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "summarizer not configured")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	res, err := s.summaries.Summarize(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	themes := make([]protocol.EmotionalTheme, 0, len(res.EmotionalThemes))
	for _, th := range res.EmotionalThemes {
		themes = append(themes, protocol.EmotionalTheme{Theme: th.Theme, Description: th.Description})
	}
	tags := res.Tags
	if tags == nil {
		tags = []string{}
	}
	respondJSON(w, http.StatusOK, protocol.SummaryResponse{
		SessionID:       id,
		Summary:         res.Summary,
		Tags:            tags,
		EmotionalThemes: themes,
		Title:           res.Title,
	})
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !blob.ValidName(name) {
		respondError(w, http.StatusNotFound, "not_found", "audio not found")
		return
	}
	path := filepath.Join(s.cfg.AudioDir, name)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeFile(w, r, path)
}

// respondFailure maps pipeline errors onto the HTTP error body.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	body := protocol.ErrorResponse{
		Error: err.Error(),
		Code:  conversation.KindCode(err),
	}
	var se *conversation.StageError
	if errors.As(err, &se) {
		body.Stage = string(se.Stage)
		body.Retryable = se.Retryable()
	}
	status := statusFor(err)
	if errors.Is(err, session.ErrLockTimeout) {
		body.Code = "session_busy"
		body.Retryable = true
	}
	respondJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrValidation), errors.Is(err, memory.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, conversation.ErrParse),
		errors.Is(err, conversation.ErrMalformedResponse),
		errors.Is(err, conversation.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}
