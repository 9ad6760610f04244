package thread

import (
	"regexp"
	"strings"
)

var (
	spamTagPattern  = regexp.MustCompile(`(?i)^\s*spam\s*:\s*[*★☆]*\s*,?\s*`)
	replyPattern    = regexp.MustCompile(`(?i)^\s*(?:re|fwd|fw|tr|aw|wg|r|rif|sv|vs|réf|ref)\s*(?:\[\d+\])?\s*:\s*`)
	externalPattern = regexp.MustCompile(`(?i)^\s*\[external\]\s*`)
)

// NormalizeSubject derives the grouping key of a subject. Spam tags,
// reply and forward markers and [External] tags are stripped from the front
// until none is left; the rest is lower-cased with whitespace collapsed.
func NormalizeSubject(subject string) string {
	s := strings.Join(strings.Fields(subject), " ")
	for {
		prev := s
		s = spamTagPattern.ReplaceAllString(s, "")
		s = replyPattern.ReplaceAllString(s, "")
		s = externalPattern.ReplaceAllString(s, "")
		if s == prev {
			break
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// StripSpamTag removes leading spam-filter tags and keeps reply markers.
func StripSpamTag(subject string) string {
	s := subject
	for spamTagPattern.MatchString(s) {
		next := spamTagPattern.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}
