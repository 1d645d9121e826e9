// Package render turns documents into artifacts. Markdown is converted to a
// sanitized HTML page, which the pdf engine lays out into a PDF.
//
// Engines are registered by name and chosen at construction time with New.
package render

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/press/internal/document"
	"github.com/jmgilman/go/errors"
)

// CodeRenderFailed marks failures while producing an artifact.
const CodeRenderFailed errors.ErrorCode = "RENDER_FAILED"

// DefaultEngine is used when no engine name is given.
const DefaultEngine = "pdf"

// DefaultFetchTimeout bounds a single image download.
const DefaultFetchTimeout = 10 * time.Second

// Renderer converts a document into an artifact.
type Renderer interface {
	// Render returns the complete artifact or an error. It never returns
	// partial output.
	Render(ctx context.Context, doc document.Document) ([]byte, error)

	// ContentType is the MIME type of the artifacts Render produces.
	ContentType() string
}

// Options configure a renderer.
type Options struct {
	// BaseURL is the only origin images may be loaded from. Relative image
	// references are resolved against it. When empty, no images are loaded.
	BaseURL string

	// FetchTimeout bounds each image download.
	FetchTimeout time.Duration

	// HTTPClient is used for image downloads. Defaults to a new client.
	HTTPClient *http.Client
}

// Factory creates a renderer.
type Factory func(Options) (Renderer, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an engine available by name. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New creates the named engine.
func New(name string, opts Options) (Renderer, error) {
	if name == "" {
		name = DefaultEngine
	}

	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidConfig, "unknown render engine %q", name)
	}
	return f(opts)
}

// Engines lists the registered engine names.
func Engines() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func renderFailed(err error, stage, key string) error {
	return errors.WithContext(
		errors.WithContext(errors.Wrap(err, CodeRenderFailed, "render "+stage), "stage", stage),
		"key", key)
}
