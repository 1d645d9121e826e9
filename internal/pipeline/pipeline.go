// Package pipeline connects a document resolver to a renderer.
package pipeline

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/press/internal/document"
	"github.com/charmbracelet/press/internal/render"
	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/errors"
)

// Pipeline resolves a key to a document and renders it.
type Pipeline struct {
	resolver document.Resolver
	renderer render.Renderer
}

// New returns a pipeline.
func New(resolver document.Resolver, renderer render.Renderer) *Pipeline {
	return &Pipeline{resolver: resolver, renderer: renderer}
}

// Render returns the artifact for key. found is false when the key has no
// document. Renderer errors are returned unchanged.
func (p *Pipeline) Render(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errors.New(errors.CodeInvalidInput, "key is empty")
	}

	doc, err := p.resolver.Resolve(ctx, key)
	if err != nil {
		code := errors.GetCode(err)
		if code == errors.CodeUnknown {
			code = errors.CodeDatabase
		}
		return nil, false, errors.WithContext(errors.Wrap(err, code, "resolve document"), "key", key)
	}
	if doc == nil {
		log.Debug("Document not found", "key", key)
		return nil, false, nil
	}

	data, err := p.renderer.Render(ctx, *doc)
	if err != nil {
		return nil, false, err
	}
	log.Debug("Rendered document", "key", key, "size", humanize.Bytes(uint64(len(data))))
	return data, true, nil
}

// ContentType is the MIME type of the artifacts the pipeline produces.
func (p *Pipeline) ContentType() string {
	return p.renderer.ContentType()
}
