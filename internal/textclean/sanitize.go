// Package textclean strips stage directions and echoed speaker labels from
// generated replies before they reach the user or the memory store.
package textclean

import (
	"regexp"
	"strings"
)

// actionSpanRe matches `*...*` action text such as "*微笑*". Like the rest of
// the span it does not cross line breaks.
var actionSpanRe = regexp.MustCompile(`\*.*?\*`)

// labelColons are the full-width and ASCII colon variants of a speaker label.
var labelColons = []string{"：", ":"}

// Sanitize removes action spans and "<name>：" / "<name>:" labels for both
// speakers anywhere in text, then trims surrounding whitespace.
//
// Removing a label can splice two halves of another label together
// ("AAili:ili:"), so passes repeat until nothing changes. Every pass either
// shrinks the text or stops, which keeps Sanitize idempotent.
func Sanitize(roleName, youName, text string) string {
	labels := speakerLabels(roleName, youName)
	out := text
	for {
		next := actionSpanRe.ReplaceAllString(out, "")
		for _, label := range labels {
			next = strings.ReplaceAll(next, label, "")
		}
		if next == out {
			break
		}
		out = next
	}
	return strings.TrimSpace(out)
}

func speakerLabels(names ...string) []string {
	labels := make([]string, 0, len(names)*len(labelColons))
	for _, name := range names {
		if name == "" {
			continue
		}
		for _, colon := range labelColons {
			labels = append(labels, name+colon)
		}
	}
	return labels
}
