package voice

import (
	"regexp"
	"strings"
	"unicode"
)

type speechRewrite struct {
	pattern *regexp.Regexp
	with    string
}

// Applied in order: code first so URLs inside code blocks vanish with them.
var speechRewrites = []speechRewrite{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`\[(.*?)\]\((.*?)\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
}

const markupRunes = "*_\\/|#~<>"

// speakableText turns message text into something a synthesizer can read
// aloud: markup, URLs, emoji and stray symbols are dropped and whitespace is
// collapsed.
func speakableText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, rw := range speechRewrites {
		raw = rw.pattern.ReplaceAllString(raw, rw.with)
	}

	var b strings.Builder
	b.Grow(len(raw))
	space := true
	gap := func() {
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	for _, r := range raw {
		switch {
		case strings.ContainsRune(markupRunes, r), unicode.IsSpace(r):
			gap()
		case r == '\u200d', r == '\ufe0f', r == '\u20e3', unicode.IsControl(r):
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
		case strings.ContainsRune(".,!?:;'\"-()", r):
			b.WriteRune(r)
			space = false
		case unicode.IsPunct(r):
			gap()
		default:
			b.WriteRune(r)
			space = false
		}
	}
	return strings.TrimSpace(b.String())
}
