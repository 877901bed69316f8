package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeWAVPCM16LEHeader(t *testing.T) {
	pcm := []byte{0x00, 0x00, 0xE8, 0x03, 0x18, 0xFC}
	wav, err := EncodeWAVPCM16LE(pcm, 24000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	if len(wav) != 44+len(pcm) {
		t.Fatalf("len(wav) = %d, want %d", len(wav), 44+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad chunk ids: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 24000 {
		t.Fatalf("sample rate = %d, want 24000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data size = %d, want %d", got, len(pcm))
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatalf("payload mismatch")
	}
}

func TestEncodeWAVPCM16LERejectsOddLength(t *testing.T) {
	if _, err := EncodeWAVPCM16LE([]byte{1, 2, 3}, 16000); err == nil {
		t.Fatalf("EncodeWAVPCM16LE() error = nil, want odd length error")
	}
}

func TestParsePCMFormatAndExtension(t *testing.T) {
	if rate, ok := ParsePCMFormat("pcm_22050"); !ok || rate != 22050 {
		t.Fatalf("ParsePCMFormat(pcm_22050) = (%d, %v)", rate, ok)
	}
	if _, ok := ParsePCMFormat("mp3_44100_128"); ok {
		t.Fatalf("ParsePCMFormat(mp3) ok = true, want false")
	}
	cases := map[string]string{"mp3_44100_128": "mp3", "pcm_16000": "wav", "opus_48000": "ogg", "ulaw_8000": "bin"}
	for in, want := range cases {
		if got := Extension(in); got != want {
			t.Fatalf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}
