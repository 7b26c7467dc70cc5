// Package report renders the final analysis report. Reports are composed
// as markdown; unless the caller asked for plain output they are converted
// to a standalone HTML page.
package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer turns report markdown into its delivery format.
type Renderer interface {
	// Render returns the report body. With plain=true the markdown passes
	// through untouched; otherwise it is converted to an HTML page.
	Render(markdown string, plain bool) (string, error)
}

// GoldmarkRenderer renders markdown to HTML with GitHub-flavored tables,
// which the report's result sections rely on.
type GoldmarkRenderer struct {
	md    goldmark.Markdown
	title string
}

// Option configures the renderer.
type Option func(*GoldmarkRenderer)

// WithTitle sets the HTML page title.
func WithTitle(title string) Option {
	return func(r *GoldmarkRenderer) { r.title = title }
}

// NewGoldmarkRenderer creates the default renderer.
func NewGoldmarkRenderer(opts ...Option) *GoldmarkRenderer {
	r := &GoldmarkRenderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(goldmarkhtml.WithHardWraps()),
		),
		title: "Analysis Report",
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render implements Renderer.
func (r *GoldmarkRenderer) Render(markdown string, plain bool) (string, error) {
	if plain {
		return markdown, nil
	}
	var body bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return wrapPage(r.title, body.String()), nil
}

func wrapPage(title, body string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(title)
	b.WriteString("</title>\n</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String()
}
