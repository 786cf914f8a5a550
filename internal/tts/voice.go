package tts

import "strings"

var languageVoices = map[string]string{
	"english":    "en-US",
	"french":     "fr-FR",
	"spanish":    "es-ES",
	"german":     "de-DE",
	"italian":    "it-IT",
	"portuguese": "pt-PT",
	"polish":     "pl-PL",
	"turkish":    "tr-TR",
	"russian":    "ru-RU",
	"dutch":      "nl-NL",
	"czech":      "cs-CZ",
	"arabic":     "ar-XA",
	"chinese":    "cmn-CN",
	"japanese":   "ja-JP",
	"korean":     "ko-KR",
	"vietnamese": "vi-VN",
	"thai":       "th-TH",
	"hebrew":     "he-IL",
	"hindi":      "hi-IN",
	"indonesian": "id-ID",
	"romanian":   "ro-RO",
	"bulgarian":  "bg-BG",
	"ukrainian":  "uk-UA",
	"swedish":    "sv-SE",
	"finnish":    "fi-FI",
	"hungarian":  "hu-HU",
}

var codeVoices = map[string]string{}

func init() {
	for _, voice := range languageVoices {
		code, _, _ := strings.Cut(voice, "-")
		if _, ok := codeVoices[code]; !ok {
			codeVoices[code] = voice
		}
	}
	codeVoices["zh"] = "cmn-CN"
}

// VoiceFor resolves the voice for a language given as a name ("french"), a
// code ("fr") or a locale ("fr-CA", "fr_CA"). A locale is used as is.
// Unknown languages get fallback.
func VoiceFor(language, fallback string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return fallback
	}
	if voice, ok := languageVoices[lang]; ok {
		return voice
	}
	lang = strings.ReplaceAll(lang, "_", "-")
	code, region, hasRegion := strings.Cut(lang, "-")
	if hasRegion && region != "" {
		if _, known := codeVoices[code]; known {
			return code + "-" + strings.ToUpper(region)
		}
	}
	if voice, ok := codeVoices[code]; ok {
		return voice
	}
	return fallback
}
