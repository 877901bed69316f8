package voice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"

	"github.com/ent0n29/confidant/internal/reliability"
)

// Polly rejects requests above 3000 billed characters.
const pollyMaxChars = 2900

// PollyAPI is the subset of the Polly client in use.
type PollyAPI interface {
	SynthesizeSpeech(ctx context.Context, in *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollySynthesizer renders mp3 with Amazon Polly. Persona voice names map
// directly to Polly voice ids.
type PollySynthesizer struct {
	api    PollyAPI
	engine pollytypes.Engine
}

func NewPollySynthesizer(cfg aws.Config, engine string) *PollySynthesizer {
	return NewPollySynthesizerWithAPI(polly.NewFromConfig(cfg), engine)
}

func NewPollySynthesizerWithAPI(api PollyAPI, engine string) *PollySynthesizer {
	e := pollytypes.Engine(strings.ToLower(strings.TrimSpace(engine)))
	if e == "" {
		e = pollytypes.EngineNeural
	}
	return &PollySynthesizer{api: api, engine: e}
}

func (p *PollySynthesizer) Synthesize(ctx context.Context, text, voiceID string) (Speech, error) {
	chunks := splitSentences(text, pollyMaxChars)
	if len(chunks) == 0 {
		return Speech{}, fmt.Errorf("polly: empty text")
	}
	if strings.TrimSpace(voiceID) == "" {
		voiceID = string(pollytypes.VoiceIdJoanna)
	}

	// mp3 frames concatenate cleanly.
	var clip bytes.Buffer
	for _, chunk := range chunks {
		out, err := p.api.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
			Text:         aws.String(chunk),
			OutputFormat: pollytypes.OutputFormatMp3,
			VoiceId:      pollytypes.VoiceId(voiceID),
			Engine:       p.engine,
		})
		if err != nil {
			return Speech{}, reliability.WrapAWS("polly", err)
		}
		_, err = io.Copy(&clip, out.AudioStream)
		out.AudioStream.Close()
		if err != nil {
			return Speech{}, fmt.Errorf("read polly stream: %w", err)
		}
	}
	if clip.Len() == 0 {
		return Speech{}, ErrNoAudio
	}
	return Speech{Audio: clip.Bytes(), Format: "mp3"}, nil
}
