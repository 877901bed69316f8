package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// DefaultInstructions are appended to every system prompt.
const DefaultInstructions = `You are a warm, attentive conversation partner speaking out loud.
Keep every reply brief: one to three short sentences, no lists or markup.
End most replies with one gentle follow-up question that invites the user to share more.
Stay on the topic the user raised and do not change the subject unless they do.`

// Persona describes one configured conversational style.
type Persona struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name"`
	Style       string `json:"style"`
	// Voice is the synthesis voice id. Empty means the key doubles as the voice.
	Voice    string `json:"voice,omitempty"`
	Greeting string `json:"greeting,omitempty"`
}

// Registry maps persona keys to styles. Lookups are case-insensitive.
type Registry struct {
	mu           sync.RWMutex
	personas     map[string]Persona
	defaultVoice string
}

var builtin = []Persona{
	{
		Key:         "Joanna",
		DisplayName: "Joanna",
		Style:       "Speak with warmth and curiosity, like a close friend who loves hearing about someone's day.",
		Greeting:    "Hi, I'm Joanna. What's on your mind today?",
	},
	{
		Key:         "Matthew",
		DisplayName: "Matthew",
		Style:       "Speak calmly and steadily, grounding the conversation with patience.",
		Greeting:    "Hey, I'm Matthew. Take your time, what would you like to talk about?",
	},
	{
		Key:         "Emma",
		DisplayName: "Emma",
		Style:       "Speak gently with a soft British warmth, offering reassurance.",
		Greeting:    "Hello, I'm Emma. How are you feeling today?",
	},
	{
		Key:         "Amy",
		DisplayName: "Amy",
		Style:       "Speak with upbeat energy and encouragement.",
		Greeting:    "Hi there, I'm Amy! Tell me something good that happened recently.",
	},
	{
		Key:         "Brian",
		DisplayName: "Brian",
		Style:       "Speak thoughtfully with a dry, understated sense of humour.",
		Greeting:    "Hello, Brian here. What shall we chat about?",
	},
	{
		Key:         "warm",
		DisplayName: "Warm",
		Style:       "Use a warm, emotionally present, natural conversational tone.",
		Voice:       "Joanna",
	},
	{
		Key:         "professional",
		DisplayName: "Professional",
		Style:       "Use a calm, precise, professional tone.",
		Voice:       "Matthew",
	},
	{
		Key:         "concise",
		DisplayName: "Concise",
		Style:       "Use a direct and concise tone with minimal filler.",
		Voice:       "Joanna",
	},
}

// NewRegistry returns a registry holding the built-in personas.
func NewRegistry(defaultVoice string) *Registry {
	r := &Registry{
		personas:     make(map[string]Persona, len(builtin)),
		defaultVoice: strings.TrimSpace(defaultVoice),
	}
	if r.defaultVoice == "" {
		r.defaultVoice = "Joanna"
	}
	for _, p := range builtin {
		r.personas[normalizeKey(p.Key)] = p
	}
	return r
}

// LoadFile merges personas from a JSON array file, overriding built-ins by key.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read persona file: %w", err)
	}
	var list []Persona
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("decode persona file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range list {
		if strings.TrimSpace(p.Key) == "" {
			return fmt.Errorf("persona file entry %d: key is required", i)
		}
		r.personas[normalizeKey(p.Key)] = p
	}
	return nil
}

// Resolve returns the persona for key. ok is false when the default variant is
// returned for an unknown key.
func (r *Registry) Resolve(key string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.personas[normalizeKey(key)]; ok {
		return p, true
	}
	return Persona{Key: strings.TrimSpace(key), DisplayName: "Default"}, false
}

// StylePrompt returns the style fragment for key, or "" for unknown keys.
func (r *Registry) StylePrompt(key string) string {
	p, _ := r.Resolve(key)
	return strings.TrimSpace(p.Style)
}

// SystemPrompt composes the style fragment with the default instructions.
func (r *Registry) SystemPrompt(key string) string {
	style := r.StylePrompt(key)
	if style == "" {
		return DefaultInstructions
	}
	return style + "\n\n" + DefaultInstructions
}

// Voice returns the synthesis voice for key.
func (r *Registry) Voice(key string) string {
	p, ok := r.Resolve(key)
	if v := strings.TrimSpace(p.Voice); v != "" {
		return v
	}
	if ok {
		return p.Key
	}
	return r.defaultVoice
}

// Greeting returns the intro line for key.
func (r *Registry) Greeting(key string) string {
	p, ok := r.Resolve(key)
	if g := strings.TrimSpace(p.Greeting); g != "" {
		return g
	}
	if ok && p.DisplayName != "" {
		return fmt.Sprintf("Hi, I'm %s. What would you like to talk about?", p.DisplayName)
	}
	return "Hi there. What would you like to talk about?"
}

// List returns all personas sorted by key.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Persona, 0, len(r.personas))
	for _, p := range r.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Key) < strings.ToLower(out[j].Key)
	})
	return out
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
