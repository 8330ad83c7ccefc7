// Package render converts profile text between the markdown stored locally and
// the HTML exchanged with peers.
package render

import (
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	xhtml "golang.org/x/net/html"
)

// MarkdownToHTML renders a local summary for an actor document.
func MarkdownToHTML(text string) string {
	if text == "" {
		return ""
	}

	p := parser.NewWithExtensions(parser.CommonExtensions | parser.NoEmptyLineBeforeBlock)
	doc := p.Parse([]byte(text))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank})
	return strings.Trim(string(markdown.Render(doc, renderer)), "\n")
}

// HTMLToMarkdown converts a remote summary. Links become markdown links,
// paragraphs and line breaks become newlines and other markup is dropped.
func HTMLToMarkdown(text string) string {
	if text == "" {
		return ""
	}

	doc, err := xhtml.Parse(strings.NewReader(text))
	if err != nil {
		return text
	}

	var b strings.Builder
	writeMarkdown(&b, doc)
	return strings.Trim(b.String(), "\n")
}

func writeMarkdown(b *strings.Builder, n *xhtml.Node) {
	switch {
	case n.Type == xhtml.TextNode:
		b.WriteString(n.Data)
		return
	case n.Type == xhtml.ElementNode && n.Data == "br":
		b.WriteString("\n")
		return
	case n.Type == xhtml.ElementNode && n.Data == "p":
		b.WriteString("\n\n")
	case n.Type == xhtml.ElementNode && n.Data == "a":
		href := attr(n, "href")
		label := textOf(n)
		// Mentions and hashtags render their text only.
		if href == "" || strings.HasPrefix(label, "#") || strings.HasPrefix(label, "@") {
			b.WriteString(label)
			return
		}
		b.WriteString("[" + label + "](" + href + ")")
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeMarkdown(b, c)
	}
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textOf(n *xhtml.Node) string {
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// FirstLink returns the href of the first anchor in text, or text itself when
// it holds no anchor. Profile fields carry their link this way.
func FirstLink(text string) string {
	doc, err := xhtml.Parse(strings.NewReader(text))
	if err != nil {
		return text
	}

	var find func(*xhtml.Node) string
	find = func(n *xhtml.Node) string {
		if n.Type == xhtml.ElementNode && n.Data == "a" {
			if href := attr(n, "href"); href != "" {
				return href
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if href := find(c); href != "" {
				return href
			}
		}
		return ""
	}

	if href := find(doc); href != "" {
		return href
	}
	return strings.TrimSpace(textOf(doc))
}
