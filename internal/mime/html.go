package mime

import (
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	scriptPattern    = regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`)
	stylePattern     = regexp.MustCompile(`(?is)<style[^>]*>.*?</style\s*>`)
	commentPattern   = regexp.MustCompile(`(?s)<!--.*?-->`)
	lineBreakPattern = regexp.MustCompile(`(?i)<br\s*/?>|</p\s*>|</div\s*>`)
	htmlMarkPattern  = regexp.MustCompile(`(?i)<(!doctype|html|head|body|meta|div|p|br|table|span|font|a\s)[\s>/]`)
)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#34;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&amp;", "&",
)

// stripPolicy removes every tag and leaves a space in its place.
var stripPolicy = func() *bluemonday.Policy {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return p
}()

// HTMLToText derives plain text from HTML: script and style blocks are
// dropped, <br>, </p> and </div> become line breaks, other tags become
// spaces, the standard entities are unescaped and whitespace runs collapse.
func HTMLToText(s string) string {
	if s == "" {
		return ""
	}
	s = scriptPattern.ReplaceAllString(s, "")
	s = stylePattern.ReplaceAllString(s, "")
	s = commentPattern.ReplaceAllString(s, "")
	s = lineBreakPattern.ReplaceAllString(s, "\n")
	s = stripPolicy.Sanitize(s)
	s = entityReplacer.Replace(s)
	return collapseWhitespace(s)
}

func collapseWhitespace(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// LooksLikeHTML reports whether untyped content carries HTML markup.
func LooksLikeHTML(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	return htmlMarkPattern.MatchString(trimmed)
}
