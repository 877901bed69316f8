// Package conversation runs one spoken turn end to end: transcribe, persist,
// assemble context, generate, persist, synthesize.
package conversation

import (
	"errors"
	"fmt"

	"github.com/ent0n29/confidant/internal/llm"
	"github.com/ent0n29/confidant/internal/reliability"
	"github.com/ent0n29/confidant/internal/voice"
)

// Error kinds. Match with errors.Is.
var (
	ErrTransport         = errors.New("transport error")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNotFound          = errors.New("not found")
	ErrParse             = errors.New("parse error")
	ErrValidation        = errors.New("validation error")
)

// Stage is the last state a turn reached.
type Stage string

const (
	StageReceived           Stage = "received"
	StageTranscribed        Stage = "transcribed"
	StageUserPersisted      Stage = "user_persisted"
	StageContextAssembled   Stage = "context_assembled"
	StageReplied            Stage = "replied"
	StageAssistantPersisted Stage = "assistant_persisted"
	StageSynthesized        Stage = "synthesized"
	StageCompleted          Stage = "completed"
)

// Operations that can fail a turn or emit a warning.
const (
	OpValidate        = "validate"
	OpLock            = "lock"
	OpTranscribe      = "transcribe"
	OpAppendUser      = "append_user"
	OpLoadContext     = "load_context"
	OpGenerate        = "generate"
	OpAppendAssistant = "append_assistant"
	OpSynthesize      = "synthesize"
	OpStoreAudio      = "store_audio"
)

// StageError is a turn-fatal failure. Stage is the last state reached before
// Op failed.
type StageError struct {
	Stage Stage
	Op    string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Op, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Retryable reports whether resubmitting could succeed. Advisory only.
func (e *StageError) Retryable() bool {
	return errors.Is(e.Kind, ErrTransport) && reliability.IsRetryable(e.Err)
}

// Classify maps a collaborator error onto an error kind.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrParse):
		return ErrParse
	case errors.Is(err, ErrMalformedResponse),
		errors.Is(err, llm.ErrEmptyResponse),
		errors.Is(err, voice.ErrNoAudio):
		return ErrMalformedResponse
	}
	return ErrTransport
}

// KindCode is the short machine-readable label for an error kind.
func KindCode(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, ErrTransport):
		return "transport_error"
	default:
		return "internal_error"
	}
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
