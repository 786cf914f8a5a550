package tts

import (
	"regexp"
	"strings"
)

var (
	emphasisPattern   = regexp.MustCompile(`\*([^*]+)\*`)
	quoteMarks        = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`, "‘", "'", "’", "'")
	dashPattern       = regexp.MustCompile(`[—–-]`)
	specialCharacters = regexp.MustCompile(`[*_~^(){}\[\]…]`)
	spaceRun          = regexp.MustCompile(`\s+`)
)

// CleanText strips markup and symbols that speech engines read aloud or choke
// on, and collapses whitespace.
func CleanText(text string) string {
	text = emphasisPattern.ReplaceAllString(text, "$1")
	text = quoteMarks.Replace(text)
	text = dashPattern.ReplaceAllString(text, " ")
	text = specialCharacters.ReplaceAllString(text, "")
	text = spaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
