package policy

import (
	"regexp"
	"strings"
)

var (
	emailRegex = regexp.MustCompile(
		`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`,
	)
	phoneRegex = regexp.MustCompile(
		`\+?[0-9][0-9\-\s]{7,}[0-9]`,
	)
)

const (
	emailMask = "[email]"
	phoneMask = "[phone]"
)

// Redact masks contact details so case summaries carry no direct identifiers.
func Redact(text string) string {
	text = emailRegex.ReplaceAllString(text, emailMask)
	text = phoneRegex.ReplaceAllString(text, phoneMask)
	return strings.TrimSpace(text)
}

// Summarize redacts text and truncates it to max runes.
func Summarize(text string, max int) string {
	body := []rune(Redact(text))
	if len(body) <= max {
		return string(body)
	}
	if max <= 3 {
		return string(body[:max])
	}
	return string(body[:max-3]) + "..."
}
