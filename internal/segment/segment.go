// Package segment splits a growing narrative buffer into complete sentences.
//
// A boundary is a run of terminators ('.', '?', '!'), optionally followed by
// closing quotes or brackets, followed by whitespace. The whitespace run belongs
// to the sentence it ends, so the returned sentences concatenated with the
// remainder always reproduce the input exactly.
//
// A lone '.' is not a boundary when the word in front of it looks like an
// abbreviation: a single letter ("J. Smith", and each segment of "e.g." or
// "U.S.") or a title from a short table ("Mr.", "Dr.", "Prof."). This is a
// heuristic. Known approximations:
//   - a sentence ending in a single letter ("It was plan B. Then") is merged
//     with the next one;
//   - a sentence ending in a title word ("He met the Dr. Later") is merged;
//   - an ellipsis followed by whitespace always splits.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var titles = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "mt": {}, "vs": {}, "rev": {}, "gen": {}, "capt": {}, "lt": {},
	"col": {}, "sgt": {},
}

// Split returns the complete sentences at the head of buf and the trailing
// remainder that has not reached a boundary yet.
func Split(buf string) ([]string, string) {
	var sentences []string
	start := 0
	i := 0
	for i < len(buf) {
		if !isTerminator(buf[i]) {
			i++
			continue
		}
		runStart := i
		for i < len(buf) && isTerminator(buf[i]) {
			i++
		}
		runEnd := i
		for i < len(buf) {
			r, size := utf8.DecodeRuneInString(buf[i:])
			if !isCloser(r) {
				break
			}
			i += size
		}
		if i >= len(buf) {
			break
		}
		if r, _ := utf8.DecodeRuneInString(buf[i:]); !unicode.IsSpace(r) {
			continue
		}
		if runEnd-runStart == 1 && buf[runStart] == '.' && isAbbreviation(buf[:runStart]) {
			continue
		}
		for i < len(buf) {
			r, size := utf8.DecodeRuneInString(buf[i:])
			if !unicode.IsSpace(r) {
				break
			}
			i += size
		}
		sentences = append(sentences, buf[start:i])
		start = i
	}
	return sentences, buf[start:]
}

// EnsureTerminated appends a period to text whose last visible character is
// not a terminator. Trailing whitespace is dropped in that case.
func EnsureTerminated(text string) string {
	trimmed := strings.TrimRightFunc(text, unicode.IsSpace)
	if trimmed == "" || Terminated(trimmed) {
		return text
	}
	return trimmed + "."
}

// Terminated reports whether text ends with a terminator, ignoring trailing
// whitespace and closing quotes.
func Terminated(text string) bool {
	text = strings.TrimRightFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || isCloser(r)
	})
	return text != "" && isTerminator(text[len(text)-1])
}

// Sentences segments a complete text, treating its end as a final boundary.
// Results are trimmed and never empty.
func Sentences(text string) []string {
	parts, rest := Split(text)
	if strings.TrimSpace(rest) != "" {
		parts = append(parts, EnsureTerminated(rest))
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isAbbreviation(before string) bool {
	end := len(before)
	j := end
	for j > 0 {
		r, size := utf8.DecodeLastRuneInString(before[:j])
		if !unicode.IsLetter(r) {
			break
		}
		j -= size
	}
	word := before[j:end]
	if word == "" {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		return true
	}
	_, ok := titles[strings.ToLower(word)]
	return ok
}

func isTerminator(c byte) bool {
	return c == '.' || c == '?' || c == '!'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»':
		return true
	}
	return false
}
