// Package policy holds content rules applied to text before it is stored.
package policy

import "regexp"

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Mainland resident identity number: 17 digits and a checksum character.
	residentIDPattern = regexp.MustCompile(`\b\d{17}[\dXx]\b`)
	cardPattern       = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern      = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

type rule struct {
	pattern *regexp.Regexp
	mask    string
}

// Order matters: longer numeric shapes are masked before the phone rule can
// claim their digits.
var rules = []rule{
	{emailPattern, "[REDACTED_EMAIL]"},
	{residentIDPattern, "[REDACTED_ID]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, r.mask)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
