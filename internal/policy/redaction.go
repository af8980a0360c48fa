package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Card numbers are matched before phone numbers so long digit runs are not
// reported as phones.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (string, bool) {
	out := input
	changed := false
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		if next != out {
			changed = true
			out = next
		}
	}
	return out, changed
}

// RedactPayload returns a copy of payload with every value passed through
// RedactPII. Keys listed in keep are copied verbatim.
func RedactPayload(payload map[string]string, keep ...string) (map[string]string, bool) {
	skip := make(map[string]bool, len(keep))
	for _, k := range keep {
		skip[k] = true
	}
	out := make(map[string]string, len(payload))
	changed := false
	for k, v := range payload {
		if skip[k] {
			out[k] = v
			continue
		}
		redacted, c := RedactPII(v)
		out[k] = redacted
		changed = changed || c
	}
	return out, changed
}
