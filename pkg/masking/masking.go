// Package masking removes personally identifying information from values
// that leave the core: wire responses, LLM payload summaries, and the
// external messaging deep-link. Maskers are defensive: on any parsing doubt
// they return a safe reduced form rather than the original data.
package masking

import (
	"regexp"
	"strings"
	"unicode"
)

// CompiledPattern holds a pre-compiled regex with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns are applied by MaskText in order.
var builtinPatterns = []*CompiledPattern{
	{
		Name:        "email",
		Regex:       regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		Replacement: "***@***",
	},
	{
		Name:        "phone",
		Regex:       regexp.MustCompile(`\+?\d[\d\s\-().]{7,}\d`),
		Replacement: "***",
	},
	{
		Name:        "dni",
		Regex:       regexp.MustCompile(`\b\d{2}[.\s]?\d{3}[.\s]?\d{3}\b`),
		Replacement: "***",
	},
}

// MaskText replaces emails, phone numbers and national id numbers in s.
func MaskText(s string) string {
	for _, p := range builtinPatterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// MaskName reduces a display name to first name plus last initial:
// "Lucas García" → "Lucas G.". Single names pass through; empty input
// yields an empty string.
func MaskName(name string) string {
	fields := strings.Fields(strings.TrimSpace(name))
	if len(fields) == 0 {
		return ""
	}
	if len(fields) == 1 {
		return fields[0]
	}
	last := []rune(fields[len(fields)-1])
	return fields[0] + " " + string(unicode.ToUpper(last[0])) + "."
}

// SanitizeName strips control characters and truncates a user-supplied
// display name for storage. Names are free text from the widget; anything
// that is not printable is dropped.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsPrint(r) {
			b.WriteRune(r)
		}
	}
	s := b.String()
	const maxNameLen = 60
	if len(s) > maxNameLen {
		runes := []rune(s)
		if len(runes) > maxNameLen {
			runes = runes[:maxNameLen]
		}
		s = string(runes)
	}
	return s
}
