// Package markdown renders assistant output as HTML for the web interface.
package markdown

import (
	"bytes"
	"fmt"
	"html/template"

	highlighting "github.com/yuin/goldmark-highlighting"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var md = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// Render converts markdown source into HTML. The output is safe to inject into templates as
// template.HTML since goldmark escapes raw HTML by default.
func Render(source string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}
