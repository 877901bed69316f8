package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSystemPromptUnknownKeyIsDefaultInstructionsOnly(t *testing.T) {
	r := NewRegistry("")
	if got := r.StylePrompt("Nobody"); got != "" {
		t.Fatalf("StylePrompt(unknown) = %q, want empty", got)
	}
	if got := r.SystemPrompt("Nobody"); got != DefaultInstructions {
		t.Fatalf("SystemPrompt(unknown) = %q, want default instructions", got)
	}
	if _, ok := r.Resolve("Nobody"); ok {
		t.Fatalf("Resolve(unknown) ok = true, want false")
	}
}

func TestSystemPromptKnownKeyPrefixesStyle(t *testing.T) {
	r := NewRegistry("")
	style := r.StylePrompt("Joanna")
	if style == "" {
		t.Fatalf("StylePrompt(Joanna) is empty")
	}
	want := style + "\n\n" + DefaultInstructions
	if got := r.SystemPrompt("joanna"); got != want {
		t.Fatalf("SystemPrompt(joanna) = %q, want %q", got, want)
	}
}

func TestVoiceResolution(t *testing.T) {
	r := NewRegistry("Emma")
	cases := map[string]string{
		"Joanna": "Joanna",
		"warm":   "Joanna",
		"":       "Emma",
		"nobody": "Emma",
		"Ivy":    "Emma",
	}
	for key, want := range cases {
		if got := r.Voice(key); got != want {
			t.Fatalf("Voice(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestLoadFileOverridesAndAdds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")
	body := `[{"key":"Joanna","display_name":"Jo","style":"Be playful."},{"key":"Kendra","style":"Be wise.","voice":"Kendra"}]`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write persona file: %v", err)
	}

	r := NewRegistry("")
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got := r.StylePrompt("Joanna"); got != "Be playful." {
		t.Fatalf("StylePrompt(Joanna) = %q, want override", got)
	}
	if !strings.HasPrefix(r.SystemPrompt("kendra"), "Be wise.") {
		t.Fatalf("SystemPrompt(kendra) missing style")
	}
	if got := r.Greeting("Joanna"); got != "Hi, I'm Jo. What would you like to talk about?" {
		t.Fatalf("Greeting(Joanna) = %q", got)
	}
}

func TestLoadFileRejectsMissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.json")
	if err := os.WriteFile(path, []byte(`[{"style":"x"}]`), 0o600); err != nil {
		t.Fatalf("write persona file: %v", err)
	}
	if err := NewRegistry("").LoadFile(path); err == nil {
		t.Fatalf("LoadFile() error = nil, want missing key error")
	}
}
