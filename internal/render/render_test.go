package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_Basics(t *testing.T) {
	out := Render("# Hi\n\nsome **bold** text")
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<strong>bold</strong>")
}

func TestRender_EscapesRawHTML(t *testing.T) {
	out := Render("hello <script>alert(1)</script>")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "hello")
}

func TestRender_HighlightsFencedCode(t *testing.T) {
	out := Render("```go\nfunc main() {}\n```")
	assert.Contains(t, out, "<pre")
	assert.Contains(t, out, "class=")
	assert.Contains(t, out, "main")
}

func TestRender_LinksGetNoFollow(t *testing.T) {
	out := Render("[site](https://example.com)")
	assert.Contains(t, out, `href="https://example.com"`)
	assert.Contains(t, out, "nofollow")
}

func TestPlainTextTitle_StripsMarkdown(t *testing.T) {
	cases := map[string]string{
		"## Hello **world**":                    "Hello world",
		"> quoted _text_":                       "quoted text",
		"- item one\n- item two":                "item one item two",
		"see [the docs](http://x.y) now":        "see the docs now",
		"run `go test` please":                  "run go test please",
		"before\n```go\nfmt.Println()\n```\nafter": "before after",
		"  lots   of\n\n  space ":               "lots of space",
		"![alt text](img.png)":                  "alt text",
	}
	for in, want := range cases {
		assert.Equal(t, want, PlainTextTitle(in), "input %q", in)
	}
}

func TestPlainTextTitle_KeepsIntraWordMarkers(t *testing.T) {
	cases := map[string]string{
		"snake_case_name is broken": "snake_case_name is broken",
		"what is 2*3*4 equals":      "what is 2*3*4 equals",
		"is 2 * 3 six":              "is 2 * 3 six",
		"rename _my_var_ please":    "rename my_var please",
		"(**bold**) and ~~gone~~":   "(bold) and gone",
	}
	for in, want := range cases {
		assert.Equal(t, want, PlainTextTitle(in), "input %q", in)
	}
}

func TestTitle_FirstFiveWords(t *testing.T) {
	assert.Equal(t, "Hello", Title("Hello"))
	assert.Equal(t, "one two three four five", Title("one two three four five six seven"))
	assert.Equal(t, DefaultTitle, Title("   "))
	assert.Equal(t, DefaultTitle, Title("```\ncode only\n```"))
}

func TestTitle_TruncatesLongWords(t *testing.T) {
	long := strings.Repeat("a", 30) + " " + strings.Repeat("b", 30)
	got := Title(long)
	require.LessOrEqual(t, len([]rune(got)), titleMaxRunes)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTitle_StableOnSecondPass(t *testing.T) {
	inputs := []string{
		"Hello",
		"# How do I **reverse** a list in Go?",
		"[link](http://x) and `code` here too",
		strings.Repeat("word ", 3) + strings.Repeat("z", 60),
		"snake_case_name is broken",
		strings.Repeat("x", 46) + "_tail",
	}
	for _, in := range inputs {
		first := Title(in)
		second := Title(first)
		assert.Equal(t, first, second, "input %q", in)
		assert.Equal(t, Render(first), Render(second))
	}
}
