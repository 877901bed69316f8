package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ent0n29/confidant/internal/protocol"
)

type options struct {
	baseURL        string
	sessionID      string
	persona        string
	files          []string
	texts          []string
	interTurnDelay time.Duration
	turnTimeout    time.Duration
	summarize      bool
	verbose        bool
}

// utterance is one replayed user turn. Text utterances are sent as the raw
// audio body, which the mock transcriber echoes back.
type utterance struct {
	Label  string
	Audio  []byte
	Format string
	// AudioSeconds is zero when the clip is not PCM16 WAV.
	AudioSeconds float64
}

type turnSample struct {
	Label   string
	Latency time.Duration
	Stage   string
	Reply   string
	Failed  bool
}

type report struct {
	SessionID string
	Samples   []turnSample
	Summary   *protocol.SummaryResponse
}

var defaultUtterances = []string{
	"Hello there",
	"I like hiking",
	"Lately I have been feeling a bit stuck at work.",
	"What should I try this weekend?",
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "turnreplay: %v\n", err)
		os.Exit(2)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()
	rep, err := run(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "turnreplay: %v\n", err)
		os.Exit(1)
	}
	for _, s := range rep.Samples {
		if s.Failed {
			os.Exit(1)
		}
	}
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("turnreplay", flag.ContinueOnError)
	var cfg options
	var filesRaw, textsRaw string
	var interTurnMS, turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "confidant base URL")
	fs.StringVar(&cfg.sessionID, "session-id", "", "session id to replay into (generated by the server when empty)")
	fs.StringVar(&cfg.persona, "persona", "Joanna", "persona key for every turn")
	fs.StringVar(&filesRaw, "files", "", "comma separated audio files to upload in order")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|', sent as text bodies when -files is empty")
	fs.IntVar(&interTurnMS, "inter-turn-ms", 0, "delay between turns in milliseconds")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 120000, "per-turn request timeout in milliseconds")
	fs.BoolVar(&cfg.summarize, "summarize", true, "end the session and print its summary")
	fs.BoolVar(&cfg.verbose, "verbose", true, "print per-turn results")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	u, err := url.Parse(cfg.baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return options{}, fmt.Errorf("base-url must be an http(s) URL, got %q", cfg.baseURL)
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond
	cfg.sessionID = strings.TrimSpace(cfg.sessionID)

	cfg.files = splitNonEmpty(filesRaw, ",")
	if len(cfg.files) == 0 {
		cfg.texts = splitNonEmpty(textsRaw, "|")
		if strings.TrimSpace(textsRaw) == "" {
			cfg.texts = append([]string(nil), defaultUtterances...)
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func splitNonEmpty(raw, sep string) []string {
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadUtterances(cfg options) ([]utterance, error) {
	if len(cfg.files) == 0 {
		out := make([]utterance, 0, len(cfg.texts))
		for _, text := range cfg.texts {
			out = append(out, utterance{Label: text, Audio: []byte(text), Format: "txt"})
		}
		return out, nil
	}
	out := make([]utterance, 0, len(cfg.files))
	for _, path := range cfg.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		u := utterance{
			Label:  filepath.Base(path),
			Audio:  data,
			Format: strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		}
		if u.Format == "wav" {
			if pcm, sr, err := decodeWAVPCM16(data); err == nil && sr > 0 {
				u.AudioSeconds = float64(len(pcm)) / float64(sr*2)
			}
		}
		out = append(out, u)
	}
	return out, nil
}

func run(ctx context.Context, cfg options, out io.Writer) (report, error) {
	utterances, err := loadUtterances(cfg)
	if err != nil {
		return report{}, fmt.Errorf("load utterances: %w", err)
	}

	client := resty.New().
		SetBaseURL(cfg.baseURL).
		SetTimeout(cfg.turnTimeout)

	rep := report{SessionID: cfg.sessionID}
	for i, u := range utterances {
		if i > 0 && cfg.interTurnDelay > 0 {
			time.Sleep(cfg.interTurnDelay)
		}
		sample, sessionID, err := postTurn(ctx, client, rep.SessionID, cfg.persona, u)
		if err != nil {
			return rep, fmt.Errorf("turn %d: %w", i+1, err)
		}
		if rep.SessionID == "" {
			rep.SessionID = sessionID
		}
		rep.Samples = append(rep.Samples, sample)
		if cfg.verbose {
			line := fmt.Sprintf("turn %d/%d %q latency=%s stage=%s", i+1, len(utterances), u.Label, sample.Latency.Round(time.Millisecond), sample.Stage)
			if u.AudioSeconds > 0 {
				line += fmt.Sprintf(" rtf=%.2f", sample.Latency.Seconds()/u.AudioSeconds)
			}
			if sample.Failed {
				line += " FAILED"
			} else {
				line += fmt.Sprintf(" reply=%q", sample.Reply)
			}
			fmt.Fprintln(out, line)
		}
	}

	printLatency(out, rep.Samples)

	if cfg.summarize && rep.SessionID != "" {
		sum, err := endSession(ctx, client, rep.SessionID)
		if err != nil {
			return rep, fmt.Errorf("end session: %w", err)
		}
		rep.Summary = &sum
		fmt.Fprintf(out, "session %s: %s\n", rep.SessionID, sum.Title)
		fmt.Fprintf(out, "  summary: %s\n", sum.Summary)
		fmt.Fprintf(out, "  tags: %s\n", strings.Join(sum.Tags, ", "))
		for _, th := range sum.EmotionalThemes {
			fmt.Fprintf(out, "  theme: %s (%s)\n", th.Theme, th.Description)
		}
	}
	return rep, nil
}

func postTurn(ctx context.Context, client *resty.Client, sessionID, personaKey string, u utterance) (turnSample, string, error) {
	var (
		ok      protocol.TurnResponse
		failure protocol.ErrorResponse
	)
	form := map[string]string{"persona": personaKey, "format": u.Format}
	if sessionID != "" {
		form["session_id"] = sessionID
	}

	start := time.Now()
	res, err := client.R().
		SetContext(ctx).
		SetMultipartFormData(form).
		SetFileReader("audio", "utterance."+u.Format, bytes.NewReader(u.Audio)).
		SetResult(&ok).
		SetError(&failure).
		Post("/v1/turns")
	latency := time.Since(start)
	if err != nil {
		return turnSample{}, "", err
	}
	if res.IsError() {
		// A failed turn is reported, not fatal, unless the request itself was invalid.
		if res.StatusCode() < 500 && res.StatusCode() != 409 {
			return turnSample{}, "", fmt.Errorf("HTTP %d %s: %s", res.StatusCode(), failure.Code, failure.Error)
		}
		return turnSample{Label: u.Label, Latency: latency, Stage: failure.Stage, Failed: true}, sessionID, nil
	}
	return turnSample{Label: u.Label, Latency: latency, Stage: ok.Stage, Reply: ok.Reply}, ok.SessionID, nil
}

func endSession(ctx context.Context, client *resty.Client, sessionID string) (protocol.SummaryResponse, error) {
	var (
		out     protocol.SummaryResponse
		failure protocol.ErrorResponse
	)
	res, err := client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&failure).
		Post("/v1/sessions/" + url.PathEscape(sessionID) + "/end")
	if err != nil {
		return out, err
	}
	if res.IsError() {
		return out, fmt.Errorf("HTTP %d %s: %s", res.StatusCode(), failure.Code, failure.Error)
	}
	return out, nil
}

func printLatency(out io.Writer, samples []turnSample) {
	lat := make([]time.Duration, 0, len(samples))
	failed := 0
	for _, s := range samples {
		if s.Failed {
			failed++
			continue
		}
		lat = append(lat, s.Latency)
	}
	if len(lat) == 0 {
		fmt.Fprintf(out, "latency: no successful turns (%d failed)\n", failed)
		return
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })
	fmt.Fprintf(out, "latency: turns=%d failed=%d p50=%s p95=%s max=%s\n",
		len(lat), failed,
		percentile(lat, 0.50).Round(time.Millisecond),
		percentile(lat, 0.95).Round(time.Millisecond),
		lat[len(lat)-1].Round(time.Millisecond),
	)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func decodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	switch {
	case !haveFmt:
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	case len(pcmData) == 0:
		return nil, 0, fmt.Errorf("wav data chunk missing")
	case audioFormat != 1:
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	case bitsPerSamp != 16:
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	case channels == 0:
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	frameBytes := int(channels) * 2
	if len(pcmData) < frameBytes {
		return nil, 0, fmt.Errorf("invalid wav frame bytes")
	}
	frameCount := len(pcmData) / frameBytes
	mono := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2])))
		}
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(int16(sum/int(channels))))
	}
	return mono, sampleRate, nil
}
