// Package policy masks sensitive content in transcripts before they are stored
// or sent to a model.
package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// Result is a redacted text plus the PII kinds that were masked.
type Result struct {
	Text  string
	Kinds []string
}

// Changed reports whether anything was masked.
func (r Result) Changed() bool { return len(r.Kinds) > 0 }

// Card numbers are masked before phones so they are not classified as phones.
var rules = []struct {
	kind    string
	pattern *regexp.Regexp
	marker  string
}{
	{"email", emailPattern, "[REDACTED_EMAIL]"},
	{"card", cardPattern, "[REDACTED_CARD]"},
	{"phone", phonePattern, "[REDACTED_PHONE]"},
}

// Redact masks common high-risk PII patterns.
func Redact(input string) Result {
	out := Result{Text: input}
	for _, rule := range rules {
		next := rule.pattern.ReplaceAllString(out.Text, rule.marker)
		if next != out.Text {
			out.Kinds = append(out.Kinds, rule.kind)
			out.Text = next
		}
	}
	return out
}
