// Package render turns markdown message bodies into sanitized HTML and derives
// plain-text conversation titles.
package render

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

const (
	DefaultTitle  = "New Conversation"
	titleMaxWords = 5
	titleMaxRunes = 50
)

var (
	md = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithGuessLanguage(true),
				highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			),
		),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
	)

	policy = newPolicy()
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	// chroma emits class-based spans
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)).OnElements("span", "pre", "code", "div")
	p.RequireNoFollowOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

// Render converts markdown to sanitized HTML. Fenced code blocks are highlighted by
// their declared language, or a guessed one. If conversion fails the escaped source
// is returned inside <pre>.
func Render(markdown string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "<pre>" + html.EscapeString(markdown) + "</pre>"
	}
	return policy.Sanitize(buf.String())
}

var (
	reFence      = regexp.MustCompile("(?s)```.*?```")
	reOpenFence  = regexp.MustCompile("(?s)```.*$")
	reInlineCode = regexp.MustCompile("`([^`]*)`")
	reImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reHeader     = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]*`)
	reQuote      = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
	reListMarker = regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+[.)])[ \t]+`)
	reEmphasis   = regexp.MustCompile(`[*_~]+`)
)

// PlainTextTitle strips markdown syntax and collapses whitespace.
func PlainTextTitle(markdown string) string {
	s := reFence.ReplaceAllString(markdown, " ")
	s = reOpenFence.ReplaceAllString(s, " ")
	s = reInlineCode.ReplaceAllString(s, "$1")
	s = reImage.ReplaceAllString(s, "$1")
	s = reLink.ReplaceAllString(s, "$1")
	s = reHeader.ReplaceAllString(s, "")
	s = reQuote.ReplaceAllString(s, "")
	s = reListMarker.ReplaceAllString(s, "")
	s = stripEmphasis(s)
	return strings.Join(strings.Fields(s), " ")
}

// stripEmphasis drops runs of *, _ and ~ that open or close a span. A run with
// letters or digits on both sides (snake_case, 2*3) or blanks on both sides is kept.
func stripEmphasis(s string) string {
	var b strings.Builder
	last := 0
	for _, loc := range reEmphasis.FindAllStringIndex(s, -1) {
		before, _ := utf8.DecodeLastRuneInString(s[:loc[0]])
		after, _ := utf8.DecodeRuneInString(s[loc[1]:])
		if isWordRune(before) && isWordRune(after) || isBlank(before) && isBlank(after) {
			continue
		}
		b.WriteString(s[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isBlank treats the string edges as blank.
func isBlank(r rune) bool {
	return r == utf8.RuneError || unicode.IsSpace(r)
}

// Title derives a conversation title from the first message: the first five words
// of the plain text, cut to 50 characters with a trailing "..." when longer.
func Title(markdown string) string {
	words := strings.Fields(PlainTextTitle(markdown))
	if len(words) == 0 {
		return DefaultTitle
	}
	if len(words) > titleMaxWords {
		words = words[:titleMaxWords]
	}
	t := strings.Join(words, " ")
	if utf8.RuneCountInString(t) > titleMaxRunes {
		r := []rune(t)
		t = strings.TrimRight(string(r[:titleMaxRunes-3]), " *_~") + "..."
	}
	return t
}
