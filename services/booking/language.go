package booking

import (
	"regexp"
	"strings"
	"unicode"
)

// guideLanguageNote matches the "GUIDE : Spanish" convention operators put in
// booking notes.
var guideLanguageNote = regexp.MustCompile(`(?i)\bGUIDE\s*:\s*([\p{L}]+)`)

// languageAliases maps lowercase keywords to canonical language names.
var languageAliases = map[string]string{
	"english":    "English",
	"inglés":     "English",
	"ingles":     "English",
	"spanish":    "Spanish",
	"español":    "Spanish",
	"espanol":    "Spanish",
	"castellano": "Spanish",
	"french":     "French",
	"français":   "French",
	"francais":   "French",
	"francés":    "French",
	"german":     "German",
	"deutsch":    "German",
	"alemán":     "German",
	"italian":    "Italian",
	"italiano":   "Italian",
	"portuguese": "Portuguese",
	"português":  "Portuguese",
	"portugues":  "Portuguese",
	"dutch":      "Dutch",
	"nederlands": "Dutch",
	"catalan":    "Catalan",
	"català":     "Catalan",
	"japanese":   "Japanese",
	"chinese":    "Chinese",
	"mandarin":   "Chinese",
	"korean":     "Korean",
	"russian":    "Russian",
	"polish":     "Polish",
	"swedish":    "Swedish",
	"svenska":    "Swedish",
	"thai":       "Thai",
}

// canonicalLanguage resolves a single word against languageAliases. Words
// outside the vocabulary resolve to "".
func canonicalLanguage(word string) string {
	return languageAliases[strings.ToLower(strings.TrimSpace(word))]
}

// languageFromNotes returns the language named by the first GUIDE marker
// whose word is a known language.
func languageFromNotes(notes []string) string {
	for _, n := range notes {
		if m := guideLanguageNote.FindStringSubmatch(n); len(m) == 2 {
			if lang := canonicalLanguage(m[1]); lang != "" {
				return lang
			}
		}
	}
	return ""
}

// languageFromTitles finds the earliest known language keyword in the given
// titles, checked in order.
func languageFromTitles(titles ...string) string {
	for _, title := range titles {
		words := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		for _, w := range words {
			if canon, ok := languageAliases[w]; ok {
				return canon
			}
		}
	}
	return ""
}
