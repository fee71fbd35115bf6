// ABOUTME: Markdown rendering of message bodies for clients that request HTML
// ABOUTME: Raw HTML in bodies is escaped; GFM tables, strikethrough and autolinks are enabled

package gateway

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

func newMarkdown() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.GFM))
}

// renderBody converts a message body to HTML. Rendering failures are
// logged and yield an empty string; the plain body is always present.
func (g *Gateway) renderBody(body string) string {
	if body == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := g.markdown.Convert([]byte(body), &buf); err != nil {
		g.logger.Warn("failed to render message body", "error", err)
		return ""
	}
	return buf.String()
}
