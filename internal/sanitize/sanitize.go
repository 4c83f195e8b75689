// Package sanitize strips markup from text before it is embedded in an
// outgoing direct message, so a rendering client cannot be tricked into
// showing links or formatting the sender did not write.
package sanitize

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strict = bluemonday.StrictPolicy()

	// tagOpen also catches tags that are never closed.
	tagOpen = regexp.MustCompile(`<[a-zA-Z!/?]`)
	angles  = strings.NewReplacer("<", "", ">", "")

	markdownPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\[.*\]\(.*\)`),
		regexp.MustCompile("[*_~`]{1,3}.*[*_~`]{1,3}"),
		regexp.MustCompile(`(?m)^#+\s`),
		regexp.MustCompile(`(?m)^\s*[-*+]\s`),
		regexp.MustCompile(`(?m)^\s*\d+\.\s`),
		regexp.MustCompile(`(?m)^>\s`),
		regexp.MustCompile("(?s)```.*```"),
		regexp.MustCompile(`\|.*\|`),
	}

	image        = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	link         = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	header       = regexp.MustCompile(`(?m)^\s*#{1,6}\s+`)
	blockquote   = regexp.MustCompile(`(?m)^\s*>\s?`)
	bullet       = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	numbered     = regexp.MustCompile(`(?m)^\s*\d+\.\s+`)
	emphasis     = regexp.MustCompile("[*_~`#]")
	languageCode = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]*[a-zA-Z0-9]$`)

	// Characters that let a URL escape its surroundings in HTML or markdown.
	urlUnsafe = " \t\r\n<>\"`{}|\\^[]"
)

// ContainsMarkup reports whether text carries HTML tags or markdown syntax.
func ContainsMarkup(text string) bool {
	if tagOpen.MatchString(text) {
		return true
	}
	for _, p := range markdownPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// PlainText removes HTML tags and markdown syntax and trims the result.
// Link and image syntax keeps only the label.
func PlainText(text string) string {
	if text == "" {
		return ""
	}
	// The strict policy drops every element and escapes the rest; unescape
	// and drop whatever angle brackets survive as text.
	out := angles.Replace(html.UnescapeString(strict.Sanitize(text)))
	out = image.ReplaceAllString(out, "$1")
	out = link.ReplaceAllString(out, "$1")
	out = header.ReplaceAllString(out, "")
	out = blockquote.ReplaceAllString(out, "")
	out = bullet.ReplaceAllString(out, "")
	out = numbered.ReplaceAllString(out, "")
	out = emphasis.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "|", "")
	return strings.TrimSpace(out)
}

// URL returns the canonical form of raw when it is an absolute http(s) URL
// whose path, query and fragment carry no HTML or markdown delimiters.
// Anything else yields "". Valid URLs are never rewritten.
func URL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if u.Host == "" || u.User != nil {
		return ""
	}
	s := u.String()
	rest := strings.TrimPrefix(s, u.Scheme+"://"+u.Host)
	if strings.ContainsAny(rest, urlUnsafe) {
		return ""
	}
	return s
}

// LanguageCode reports whether code looks like a BCP 47 style tag.
func LanguageCode(code string) bool {
	return languageCode.MatchString(code)
}
