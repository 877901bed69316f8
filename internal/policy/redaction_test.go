package policy

import (
	"strings"
	"testing"
)

func TestRedact(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	got := Redact(input)
	if !got.Changed() {
		t.Fatalf("Changed() = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(got.Text, marker) {
			t.Fatalf("output missing marker %q: %q", marker, got.Text)
		}
	}
	if strings.Join(got.Kinds, ",") != "email,card,phone" {
		t.Fatalf("Kinds = %v, want [email card phone]", got.Kinds)
	}
}

func TestRedactLeavesPlainText(t *testing.T) {
	got := Redact("I like hiking")
	if got.Changed() || got.Text != "I like hiking" {
		t.Fatalf("Redact() = %+v, want unchanged", got)
	}
}
