package render

import (
	"context"

	"github.com/charmbracelet/press/internal/document"
)

func init() {
	Register("html", func(opts Options) (Renderer, error) { return NewHTML(opts) })
}

// HTMLRenderer returns the sanitized HTML page the pdf engine lays out.
type HTMLRenderer struct {
	markup *markup
}

// NewHTML returns an HTML renderer.
func NewHTML(opts Options) (*HTMLRenderer, error) {
	allow, err := NewAllowlist(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	return &HTMLRenderer{markup: newMarkup(allow)}, nil
}

// ContentType implements Renderer.
func (r *HTMLRenderer) ContentType() string { return "text/html; charset=utf-8" }

// Render implements Renderer.
func (r *HTMLRenderer) Render(ctx context.Context, doc document.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, renderFailed(err, "start", doc.Key)
	}
	return r.markup.page(doc)
}
