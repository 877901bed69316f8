package voice

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a synthesizer finishes without producing audio.
var ErrNoAudio = errors.New("no audio produced")

// Transcriber converts one recorded utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format string) (string, error)
}

// Speech is a synthesized clip.
type Speech struct {
	Audio []byte
	// Format is the file extension of Audio (mp3, wav).
	Format string
}

// ContentType maps the clip format to a MIME type.
func (s Speech) ContentType() string {
	switch s.Format {
	case "mp3":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// Synthesizer converts reply text to speech with the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Speech, error)
}
