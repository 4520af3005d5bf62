package openai

import "strings"

// Whisper reports languages by English name in verbose responses.
var languageNames = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"russian":    "ru",
	"arabic":     "ar",
	"hindi":      "hi",
	"urdu":       "ur",
	"turkish":    "tr",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"polish":     "pl",
	"ukrainian":  "uk",
	"vietnamese": "vi",
	"indonesian": "id",
	"hebrew":     "he",
}

// LanguageCode normalizes a language name or code to ISO-639-1.
// It returns "" when the language is unknown.
func LanguageCode(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 2 {
		return s
	}
	return languageNames[s]
}
