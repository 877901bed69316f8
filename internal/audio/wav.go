package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

const defaultSampleRate = 16000

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload has odd length %d", len(pcm))
	}
	const channels, bits = 1, 16
	h := wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bits / 8),
		BlockAlign:    channels * bits / 8,
		BitsPerSample: bits,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}

	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// ParsePCMFormat reads provider output format names like "pcm_16000" and
// returns the sample rate. ok is false for compressed formats.
func ParsePCMFormat(format string) (sampleRate int, ok bool) {
	f := strings.ToLower(strings.TrimSpace(format))
	if !strings.HasPrefix(f, "pcm_") {
		return 0, false
	}
	rate, err := strconv.Atoi(strings.TrimPrefix(f, "pcm_"))
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}

// Extension returns the file extension for a provider output format name such
// as "mp3_44100_128" or "pcm_16000" (pcm is always delivered wrapped as wav).
func Extension(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case strings.HasPrefix(f, "mp3"):
		return "mp3"
	case strings.HasPrefix(f, "pcm"), strings.HasPrefix(f, "wav"):
		return "wav"
	case strings.HasPrefix(f, "ogg"), strings.HasPrefix(f, "opus"):
		return "ogg"
	default:
		return "bin"
	}
}
