package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// EpisodeGuess is best-effort metadata parsed out of a release filename.
// Confident is false when the filename matched more than one pattern with
// different results, or none at all; callers must not treat an unconfident
// guess as authoritative.
type EpisodeGuess struct {
	Episode   int    `json:"episode,omitempty"`
	Language  string `json:"language"`
	Confident bool   `json:"confident"`
}

var (
	epPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)S\d{1,2}E(\d{1,3})`),
		regexp.MustCompile(`(?i)\bEp(?:isode)?[ ._-]?(\d{1,3})\b`),
		regexp.MustCompile(`[ ._-](\d{2,3})[ ._-]?(?:\[|\(|v\d)`),
		regexp.MustCompile(`[ ._-](\d{2,3})\.\w{2,4}$`),
	}
	langTags = map[string]string{
		"eng": "en", "english": "en", "en": "en",
		"jpn": "ja", "japanese": "ja", "ja": "ja", "jp": "ja",
		"spa": "es", "esp": "es", "es": "es",
		"ger": "de", "deu": "de", "de": "de",
		"fre": "fr", "fra": "fr", "fr": "fr",
		"rus": "ru", "ru": "ru",
		"tur": "tr", "tr": "tr",
		"por": "pt", "pt": "pt",
		"ita": "it", "it": "it",
	}
	langTokenRe = regexp.MustCompile(`(?i)[\[\(\. _-]([a-z]{2,8})[\]\)\. _-]`)
)

// ParseEpisodeName extracts episode number and language hints from a
// release-style filename. This is advisory metadata only.
func ParseEpisodeName(name string) EpisodeGuess {
	guess := EpisodeGuess{Language: "unknown"}

	seen := map[int]struct{}{}
	for _, re := range epPatterns {
		if m := re.FindStringSubmatch(name); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 1000 {
				seen[n] = struct{}{}
			}
		}
	}
	if len(seen) == 1 {
		for n := range seen {
			guess.Episode = n
		}
		guess.Confident = true
	} else if len(seen) > 1 {
		// Conflicting patterns: report the first match but flag it.
		if m := epPatterns[0].FindStringSubmatch(name); m != nil {
			guess.Episode, _ = strconv.Atoi(m[1])
		}
		guess.Confident = false
	}

	for _, m := range langTokenRe.FindAllStringSubmatch(name, -1) {
		if lang, ok := langTags[strings.ToLower(m[1])]; ok {
			guess.Language = lang
			break
		}
	}
	if guess.Language == "unknown" && guess.Episode == 0 {
		guess.Confident = false
	}
	return guess
}
