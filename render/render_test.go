package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTMLToMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"<p>hello</p><p>world</p>", "hello\n\nworld"},
		{"<p>line<br>break</p>", "line\nbreak"},
		{`<p>see <a href="https://a.example/post">my post</a></p>`, "see [my post](https://a.example/post)"},
		{`<p><a href="https://a.example/tags/go" class="mention hashtag" rel="tag">#<span>go</span></a></p>`, "#go"},
		{`<p><span class="h-card"><a href="https://a.example/@bob" class="u-url mention">@<span>bob</span></a></span> hi</p>`, "@bob hi"},
		{"plain &amp; simple", "plain & simple"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTMLToMarkdown(tt.in), tt.in)
	}
}

func TestMarkdownToHTML(t *testing.T) {
	assert.Equal(t, "", MarkdownToHTML(""))
	assert.Equal(t, "<p>hello <em>world</em></p>", MarkdownToHTML("hello *world*"))
	assert.Contains(t, MarkdownToHTML("[site](https://a.example)"), `href="https://a.example"`)
}

func TestFirstLink(t *testing.T) {
	assert.Equal(t, "https://alice.example", FirstLink(`<a href="https://alice.example" rel="me"><span>alice.example</span></a>`))
	assert.Equal(t, "https://plain.example", FirstLink(" https://plain.example "))
}
