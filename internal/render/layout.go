package render

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/go-pdf/fpdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	baseFontSize = 11.0
	codeFontSize = 9.0
	listIndent   = 6.0
	quoteIndent  = 6.0
	blockGap     = 2.0

	// mm per CSS pixel at 96 dpi
	pxToMM = 25.4 / 96
)

var headingSizes = map[atom.Atom]float64{
	atom.H1: 24, atom.H2: 20, atom.H3: 16,
	atom.H4: 14, atom.H5: 12, atom.H6: 11,
}

// textStyle is the inline state applied to text runs.
type textStyle struct {
	size   float64
	bold   bool
	italic bool
	mono   bool
	muted  bool
	link   string
}

type listState struct {
	ordered bool
	next    int
}

// layout flows an HTML page into a PDF in a single pass.
type layout struct {
	ctx    context.Context
	pdf    *fpdf.Fpdf
	tr     func(string) string
	images imageSource

	styles []textStyle
	lists  []listState
	fresh  bool // at the start of a line

	loaded map[string]*remoteImage
}

func newLayout(ctx context.Context, pdf *fpdf.Fpdf, images imageSource) *layout {
	l := &layout{
		ctx:    ctx,
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		images: images,
		styles: []textStyle{{size: baseFontSize}},
		fresh:  true,
		loaded: map[string]*remoteImage{},
	}
	l.apply()
	return l
}

func (l *layout) style() textStyle { return l.styles[len(l.styles)-1] }

func (l *layout) push(f func(*textStyle)) {
	s := l.style()
	f(&s)
	l.styles = append(l.styles, s)
	l.apply()
}

func (l *layout) pop() {
	l.styles = l.styles[:len(l.styles)-1]
	l.apply()
}

func (l *layout) apply() {
	s := l.style()
	family := "Helvetica"
	if s.mono {
		family = "Courier"
	}
	var st string
	if s.bold {
		st += "B"
	}
	if s.italic {
		st += "I"
	}
	if s.link != "" {
		st += "U"
	}
	l.pdf.SetFont(family, st, s.size)

	switch {
	case s.link != "":
		l.pdf.SetTextColor(20, 60, 180)
	case s.muted:
		l.pdf.SetTextColor(100, 100, 100)
	default:
		l.pdf.SetTextColor(0, 0, 0)
	}
}

func (l *layout) lineHeight() float64 { return l.style().size * 0.45 }

func (l *layout) left() float64 {
	left, _, _, _ := l.pdf.GetMargins()
	return left
}

func (l *layout) usableWidth() float64 {
	w, _ := l.pdf.GetPageSize()
	left, _, right, _ := l.pdf.GetMargins()
	return w - left - right
}

func (l *layout) indent(d float64) {
	l.pdf.SetLeftMargin(l.left() + d)
	if l.fresh {
		l.pdf.SetX(l.left())
	}
}

func (l *layout) newline() {
	if !l.fresh {
		l.pdf.Ln(l.lineHeight())
		l.fresh = true
	}
}

func (l *layout) endBlock() {
	l.newline()
	l.pdf.Ln(blockGap)
}

// body lays out the children of the page's body element.
func (l *layout) body(root *html.Node) {
	if b := find(root, atom.Body); b != nil {
		l.children(b)
	}
}

func (l *layout) children(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		l.node(c)
	}
}

func (l *layout) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		l.text(n.Data)
		return
	case html.ElementNode:
	case html.CommentNode, html.DoctypeNode:
		return
	default:
		l.children(n)
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		l.newline()
		l.pdf.Ln(blockGap)
		size := headingSizes[n.DataAtom]
		l.push(func(s *textStyle) { s.size = size; s.bold = true })
		l.children(n)
		l.newline()
		l.pop()
		l.pdf.Ln(blockGap)

	case atom.P:
		l.newline()
		l.children(n)
		l.endBlock()

	case atom.Br:
		l.pdf.Ln(l.lineHeight())
		l.fresh = true

	case atom.Hr:
		l.newline()
		y := l.pdf.GetY() + blockGap
		l.pdf.SetDrawColor(160, 160, 160)
		l.pdf.Line(l.left(), y, l.left()+l.usableWidth(), y)
		l.pdf.SetY(y + blockGap)
		l.fresh = true

	case atom.Strong, atom.B:
		l.inline(n, func(s *textStyle) { s.bold = true })
	case atom.Em, atom.I:
		l.inline(n, func(s *textStyle) { s.italic = true })
	case atom.Del, atom.S:
		l.inline(n, func(s *textStyle) { s.muted = true })
	case atom.Code:
		l.inline(n, func(s *textStyle) { s.mono = true; s.size = codeFontSize + 1 })
	case atom.A:
		href := attr(n, "href")
		l.inline(n, func(s *textStyle) { s.link = href })

	case atom.Pre:
		l.pre(n)

	case atom.Blockquote:
		l.newline()
		l.indent(quoteIndent)
		l.push(func(s *textStyle) { s.italic = true; s.muted = true })
		l.children(n)
		l.newline()
		l.pop()
		l.indent(-quoteIndent)
		l.pdf.Ln(blockGap)

	case atom.Ul, atom.Ol:
		l.list(n)
	case atom.Li:
		l.item(n)

	case atom.Input:
		if attr(n, "type") == "checkbox" {
			mark := "[ ] "
			if hasAttr(n, "checked") {
				mark = "[x] "
			}
			l.write(mark)
		}

	case atom.Img:
		l.image(n)

	case atom.Table:
		l.table(n)

	default:
		l.children(n)
	}
}

func (l *layout) inline(n *html.Node, f func(*textStyle)) {
	l.push(f)
	l.children(n)
	l.pop()
}

func (l *layout) text(s string) {
	s = collapseSpace(s)
	if l.fresh {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
	}
	if s == "" {
		return
	}
	l.write(s)
}

func (l *layout) write(s string) {
	st := l.style()
	if st.link != "" {
		l.pdf.WriteLinkString(l.lineHeight(), l.tr(s), st.link)
	} else {
		l.pdf.Write(l.lineHeight(), l.tr(s))
	}
	l.fresh = false
}

func (l *layout) pre(n *html.Node) {
	l.newline()
	code := strings.TrimRight(textContent(n), "\n")
	code = strings.ReplaceAll(code, "\t", "    ")

	l.push(func(s *textStyle) { s.mono = true; s.size = codeFontSize })
	l.pdf.SetFillColor(242, 242, 242)
	l.pdf.MultiCell(0, l.lineHeight(), l.tr(code), "", "L", true)
	l.pop()
	l.fresh = true
	l.pdf.Ln(blockGap)
}

func (l *layout) list(n *html.Node) {
	l.newline()
	ls := listState{ordered: n.DataAtom == atom.Ol, next: 1}
	if v, err := strconv.Atoi(attr(n, "start")); err == nil {
		ls.next = v
	}
	l.lists = append(l.lists, ls)
	l.indent(listIndent)
	l.children(n)
	l.newline()
	l.indent(-listIndent)
	l.lists = l.lists[:len(l.lists)-1]
	if len(l.lists) == 0 {
		l.pdf.Ln(blockGap)
	}
}

func (l *layout) item(n *html.Node) {
	l.newline()
	marker := "•"
	if len(l.lists) > 0 {
		ls := &l.lists[len(l.lists)-1]
		if ls.ordered {
			marker = strconv.Itoa(ls.next) + "."
			ls.next++
		}
	}

	l.pdf.SetX(l.left() - listIndent + 1)
	l.pdf.Write(l.lineHeight(), l.tr(marker))
	l.pdf.SetX(l.left())
	l.fresh = true

	l.children(n)
	l.newline()
}

type tableCell struct {
	text   string
	header bool
	align  string
}

func (l *layout) table(n *html.Node) {
	l.newline()

	var rows [][]tableCell
	cols := 0
	walk(n, func(c *html.Node) bool {
		if c.Type != html.ElementNode || c.DataAtom != atom.Tr {
			return true
		}
		var row []tableCell
		for td := c.FirstChild; td != nil; td = td.NextSibling {
			if td.Type != html.ElementNode || (td.DataAtom != atom.Td && td.DataAtom != atom.Th) {
				continue
			}
			row = append(row, tableCell{
				text:   collapseSpace(strings.TrimSpace(textContent(td))),
				header: td.DataAtom == atom.Th,
				align:  cellAlign(attr(td, "align")),
			})
		}
		rows = append(rows, row)
		cols = max(cols, len(row))
		return false
	})
	if cols == 0 {
		return
	}

	w := l.usableWidth() / float64(cols)
	h := l.lineHeight() + 2
	l.pdf.SetDrawColor(160, 160, 160)
	l.pdf.SetFillColor(230, 230, 230)
	for _, row := range rows {
		for i := range cols {
			var c tableCell
			if i < len(row) {
				c = row[i]
			}
			if c.header {
				l.push(func(s *textStyle) { s.bold = true })
			}
			l.pdf.CellFormat(w, h, l.fit(c.text, w-2), "1", 0, c.align, c.header, 0, "")
			if c.header {
				l.pop()
			}
		}
		l.pdf.Ln(h)
	}
	l.fresh = true
	l.pdf.Ln(blockGap)
}

// fit translates s and truncates it to width, keeping the longest prefix
// that fits with an ellipsis.
func (l *layout) fit(s string, width float64) string {
	t := l.tr(s)
	if l.pdf.GetStringWidth(t) <= width {
		return t
	}

	// Widths grow with prefix length, so the cut point can be searched.
	r := []rune(s)
	fits := func(n int) bool {
		return l.pdf.GetStringWidth(l.tr(string(r[:n])+"...")) <= width
	}
	lo, hi := -1, len(r)-1
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if fits(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	if lo < 0 {
		return ""
	}
	return l.tr(string(r[:lo]) + "...")
}

func (l *layout) image(n *html.Node) {
	src, alt := attr(n, "src"), attr(n, "alt")
	img, err := l.load(src)
	if err != nil {
		log.Warn("Image unavailable", "src", src, "err", err)
		l.text(alt)
		return
	}

	l.newline()
	var ok bool
	switch img.kind {
	case imageSVG:
		ok = l.svg(src, img)
	default:
		ok = l.raster(src, img)
	}
	if !ok {
		l.text(alt)
		l.newline()
	}
}

func (l *layout) load(src string) (*remoteImage, error) {
	if img, ok := l.loaded[src]; ok {
		return img, nil
	}
	if l.images == nil || src == "" {
		return nil, errNoImages
	}
	img, err := l.images.fetch(l.ctx, src)
	if err != nil {
		return nil, err
	}
	l.loaded[src] = img
	return img, nil
}

// fitBox scales w x h down to the usable width and makes room on the page.
func (l *layout) fitBox(w, h float64) (x, y, fw, fh float64) {
	if maxW := l.usableWidth(); w > maxW {
		h = h * maxW / w
		w = maxW
	}
	_, pageH := l.pdf.GetPageSize()
	_, _, _, bottom := l.pdf.GetMargins()
	if l.pdf.GetY()+h > pageH-bottom {
		l.pdf.AddPage()
	}
	return l.left(), l.pdf.GetY(), w, h
}

func (l *layout) raster(name string, img *remoteImage) bool {
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	if l.pdf.GetImageInfo(name) == nil {
		l.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img.data))
		if !l.pdf.Ok() {
			log.Warn("Image rejected", "src", name, "err", l.pdf.Error())
			l.pdf.ClearError()
			return false
		}
	}

	x, y, w, h := l.fitBox(float64(img.width)*pxToMM, float64(img.height)*pxToMM)
	l.pdf.ImageOptions(name, x, y, w, h, false, opts, 0, "")
	l.pdf.SetY(y + h + blockGap)
	l.fresh = true
	return true
}

func (l *layout) svg(name string, img *remoteImage) bool {
	sig, err := fpdf.SVGBasicParse(img.data)
	if err != nil || sig.Wd <= 0 || sig.Ht <= 0 {
		log.Warn("SVG image unsupported", "src", name, "err", err)
		return false
	}

	scale := pxToMM
	x, y, w, h := l.fitBox(sig.Wd*scale, sig.Ht*scale)
	scale = w / sig.Wd

	l.pdf.SetDrawColor(0, 0, 0)
	l.pdf.SetLineWidth(0.25)
	l.pdf.SetXY(x, y)
	l.pdf.SVGBasicWrite(&sig, scale)
	l.pdf.SetY(y + h + blockGap)
	l.fresh = true
	return true
}

func cellAlign(a string) string {
	switch a {
	case "center":
		return "C"
	case "right":
		return "R"
	default:
		return "L"
	}
}

func collapseSpace(s string) string {
	if s == "" {
		return s
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return " "
	}
	out := strings.Join(fields, " ")
	if unicode.IsSpace(rune(s[0])) {
		out = " " + out
	}
	if unicode.IsSpace(rune(s[len(s)-1])) {
		out += " "
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
		return true
	})
	return sb.String()
}

// walk visits n and its descendants depth first. Returning false from f
// skips a node's children.
func walk(n *html.Node, f func(*html.Node) bool) {
	if !f(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, f)
	}
}

func find(n *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	walk(n, func(c *html.Node) bool {
		if found != nil {
			return false
		}
		if c.Type == html.ElementNode && c.DataAtom == a {
			found = c
			return false
		}
		return true
	})
	return found
}
