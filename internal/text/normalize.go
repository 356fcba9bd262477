// Package text rewrites reply text into spoken-friendly form before it is
// measured and chunked for synthesis.
package text

import (
	"regexp"
	"strings"
)

var (
	// 20.000 or 1.234.567 style grouped integers.
	groupedNumber = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+`)
	// 3,5 style decimal fractions.
	decimalComma = regexp.MustCompile(`(\d+),(\d+)`)
	whitespace   = regexp.MustCompile(`\s+`)
)

var symbolReplacer = strings.NewReplacer(
	"€", " Euro",
	"$", " Dollar",
	"£", " Pfund",
	"%", " Prozent",
	"§", " Paragraph ",
	"—", ", ",
	"–", ", ",
	"…", "...",
	"“", "\"",
	"”", "\"",
	"„", "\"",
	"‘", "'",
	"’", "'",
)

// Optimize rewrites raw reply text for more natural prosody. It is pure and
// deterministic: the same input always yields the same output. It must not
// change what the text says, only how it reads aloud.
func Optimize(s string) string {
	if s == "" {
		return s
	}

	// Grouped thousands separators confuse most engines into reading the
	// groups as separate numbers, so 20.000 becomes 20000.
	out := groupedNumber.ReplaceAllStringFunc(s, func(m string) string {
		return strings.ReplaceAll(m, ".", "")
	})

	out = decimalComma.ReplaceAllString(out, "$1 Komma $2")
	out = symbolReplacer.Replace(out)

	out = whitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
