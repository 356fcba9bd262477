// Package chunker splits normalized reply text into length-bounded segments
// and separates the short lead segment spoken by the fast engine.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Abbreviations whose trailing period does not end a sentence.
var abbreviations = map[string]struct{}{
	"z.b": {}, "d.h": {}, "u.a": {}, "bzw": {}, "ca": {}, "usw": {},
	"evtl": {}, "inkl": {}, "vgl": {}, "nr": {}, "dr": {}, "prof": {},
	"mr": {}, "mrs": {}, "ms": {}, "etc": {}, "vs": {}, "e.g": {}, "i.e": {},
}

// LimitAndChunk splits text into ordered, non-empty segments of at most
// maxLength characters, one sentence per segment. A sentence longer than
// maxLength is hard-split at whitespace; a single word longer than the
// limit stays intact as an oversized segment rather than being cut mid-word.
func LimitAndChunk(text string, maxLength int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxLength <= 0 {
		return nil
	}

	var chunks []string
	for _, sentence := range splitSentences(trimmed) {
		if utf8.RuneCountInString(sentence) > maxLength {
			chunks = append(chunks, hardSplit(sentence, maxLength)...)
			continue
		}
		chunks = append(chunks, sentence)
	}
	return chunks
}

// CreateIntroChunk merges leading chunks, in order, into a single intro
// string of at most maxIntroLength characters. If even the first chunk does
// not fit, the intro is suppressed and every chunk stays in the main set.
func CreateIntroChunk(chunks []string, maxIntroLength int) (string, []string) {
	if len(chunks) == 0 {
		return "", nil
	}

	var intro []string
	introLen := 0
	taken := 0
	for _, c := range chunks {
		length := utf8.RuneCountInString(c)
		extra := length
		if introLen > 0 {
			extra++
		}
		if introLen+extra > maxIntroLength {
			break
		}
		intro = append(intro, c)
		introLen += extra
		taken++
	}
	if taken == 0 {
		return "", chunks
	}
	return strings.Join(intro, " "), chunks[taken:]
}

func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i + 1
		for end < len(runes) && isTrailing(runes[end]) {
			end++
		}
		if !isSentenceEnd(runes, i, end) {
			i = end - 1
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			sentences = append(sentences, s)
		}
		start = end
		i = end - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func isTrailing(r rune) bool {
	switch r {
	case '.', '!', '?', '"', '\'', ')', ']':
		return true
	}
	return false
}

func isSentenceEnd(runes []rune, pos, end int) bool {
	if runes[pos] == '.' {
		// Decimal numbers: 3.14 does not end a sentence.
		if pos > 0 && pos+1 < len(runes) &&
			unicode.IsDigit(runes[pos-1]) && unicode.IsDigit(runes[pos+1]) {
			return false
		}
		wordStart := pos
		for wordStart > 0 && !unicode.IsSpace(runes[wordStart-1]) {
			wordStart--
		}
		word := strings.ToLower(strings.Trim(string(runes[wordStart:pos]), `"'()[]`))
		if _, ok := abbreviations[word]; ok {
			return false
		}
	}
	if end >= len(runes) {
		return true
	}
	return unicode.IsSpace(runes[end])
}

func hardSplit(sentence string, maxLength int) []string {
	words := strings.Fields(sentence)
	var parts []string
	var current []string
	currentLen := 0

	for _, w := range words {
		length := utf8.RuneCountInString(w)
		if currentLen > 0 && currentLen+1+length > maxLength {
			parts = append(parts, strings.Join(current, " "))
			current = nil
			currentLen = 0
		}
		current = append(current, w)
		if currentLen == 0 {
			currentLen = length
		} else {
			currentLen += 1 + length
		}
	}
	if len(current) > 0 {
		parts = append(parts, strings.Join(current, " "))
	}
	return parts
}
