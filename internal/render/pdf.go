package render

import (
	"bytes"
	"context"
	"time"

	"github.com/charmbracelet/press/internal/document"
	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
)

// epoch is stamped into every PDF so output only depends on its input.
var epoch = time.Unix(0, 0).UTC()

func init() {
	Register("pdf", func(opts Options) (Renderer, error) { return NewPDF(opts) })
}

// PDFRenderer lays out documents as A4 PDFs.
type PDFRenderer struct {
	markup *markup
	images imageSource
}

// NewPDF returns a PDF renderer.
func NewPDF(opts Options) (*PDFRenderer, error) {
	allow, err := NewAllowlist(opts.BaseURL)
	if err != nil {
		return nil, err
	}
	r := &PDFRenderer{markup: newMarkup(allow)}
	if allow.base != nil {
		r.images = newHTTPImages(allow, opts.HTTPClient, opts.FetchTimeout)
	}
	return r, nil
}

// ContentType implements Renderer.
func (r *PDFRenderer) ContentType() string { return "application/pdf" }

// Render implements Renderer.
func (r *PDFRenderer) Render(ctx context.Context, doc document.Document) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, renderFailed(err, "start", doc.Key)
	}

	page, err := r.markup.page(doc)
	if err != nil {
		return nil, err
	}
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, renderFailed(err, "parse", doc.Key)
	}

	pdf := newDocument(titleOf(doc))
	newLayout(ctx, pdf, r.images).body(root)

	if err := pdf.Error(); err != nil {
		return nil, renderFailed(err, "layout", doc.Key)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, renderFailed(err, "output", doc.Key)
	}
	return buf.Bytes(), nil
}

func newDocument(title string) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(epoch)
	pdf.SetModificationDate(epoch)
	pdf.SetTitle(title, true)
	pdf.SetCreator("press", false)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	return pdf
}

func titleOf(doc document.Document) string {
	if doc.Name == "" {
		return defaultTitle
	}
	return doc.Name
}
