package page

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// newMarkdown returns the renderer used for bot replies. Raw HTML in replies
// is escaped (goldmark's default), so a reply cannot inject markup.
func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
	)
}

// appendMarkdown renders src as markdown and appends the resulting nodes to
// n. It falls back to plain text if rendering fails.
func appendMarkdown(md goldmark.Markdown, n *html.Node, src string) error {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		appendText(n, src)
		return fmt.Errorf("render markdown: %w", err)
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(&buf, ctx)
	if err != nil {
		appendText(n, src)
		return fmt.Errorf("parse rendered markdown: %w", err)
	}
	for _, c := range nodes {
		if c.Type == html.TextNode && len(bytes.TrimSpace([]byte(c.Data))) == 0 {
			continue
		}
		n.AppendChild(c)
	}
	return nil
}
