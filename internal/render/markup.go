package render

import (
	"bytes"
	"html"
	"regexp"

	"github.com/charmbracelet/press/internal/document"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// defaultTitle is used for documents without a name.
const defaultTitle = "Menu"

// markup converts markdown into a complete, sanitized HTML page.
type markup struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newMarkup(allow *Allowlist) *markup {
	return &markup{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.NewTable(extension.WithTableCellAlignMethod(extension.TableCellAlignAttribute)),
				extension.Strikethrough,
				extension.Linkify,
				extension.TaskList,
			),
			goldmark.WithParserOptions(
				parser.WithASTTransformers(util.Prioritized(&imageFilter{allow: allow}, 100)),
			),
		),
		policy: newPolicy(allow),
	}
}

// page renders doc into the HTML shell. Raw HTML in the markdown is never
// passed through.
func (m *markup) page(doc document.Document) ([]byte, error) {
	var body bytes.Buffer
	if err := m.md.Convert([]byte(doc.Markdown), &body); err != nil {
		return nil, renderFailed(err, "markup", doc.Key)
	}

	title := doc.Name
	if title == "" {
		title = defaultTitle
	}

	var out bytes.Buffer
	out.WriteString(`<!DOCTYPE html><html><head><meta charset="utf-8"><title>`)
	out.WriteString(html.EscapeString(title))
	out.WriteString(`</title></head><body>`)
	out.Write(m.policy.SanitizeBytes(body.Bytes()))
	out.WriteString(`</body></html>`)
	return out.Bytes(), nil
}

// newPolicy allows the elements goldmark emits for GFM. Image sources must
// be on the allowlisted host.
func newPolicy(allow *Allowlist) *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)

	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr", "blockquote", "pre", "code",
		"em", "strong", "del", "span", "div",
	)
	p.AllowLists()
	p.AllowTables()
	p.AllowAttrs("start").Matching(bluemonday.Integer).OnElements("ol")
	p.AllowAttrs("align").Matching(regexp.MustCompile(`^(left|right|center)$`)).OnElements("th", "td")
	p.AllowAttrs("class").Matching(regexp.MustCompile(`^language-[\w+-]+$`)).OnElements("code")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")

	if src := allow.srcPattern(); src != nil {
		p.AllowAttrs("src").Matching(src).OnElements("img")
		p.AllowAttrs("alt", "title").OnElements("img")
	}
	return p
}

// imageFilter replaces images that may not be loaded with their alt text and
// rewrites the rest to absolute URLs.
type imageFilter struct {
	allow *Allowlist
}

func (f *imageFilter) Transform(node *ast.Document, reader text.Reader, _ parser.Context) {
	source := reader.Source()

	var images []*ast.Image
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if img, ok := n.(*ast.Image); ok && entering {
			images = append(images, img)
		}
		return ast.WalkContinue, nil
	})

	for _, img := range images {
		if u, ok := f.allow.Resolve(string(img.Destination)); ok {
			img.Destination = []byte(u)
			continue
		}
		parent := img.Parent()
		if parent == nil {
			continue
		}
		parent.ReplaceChild(parent, img, ast.NewString(altText(img, source)))
	}
}

func altText(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(source))
		case *ast.String:
			buf.Write(t.Value)
		default:
			buf.Write(altText(c, source))
		}
	}
	return buf.Bytes()
}
