package pipeline

import (
	"bytes"
	"context"
	stderrors "errors"
	"testing"

	"github.com/charmbracelet/press/internal/document"
	"github.com/charmbracelet/press/internal/render"
	"github.com/jmgilman/go/errors"
)

type fakeResolver struct {
	docs  map[string]document.Document
	err   error
	calls int
}

func (f *fakeResolver) Resolve(_ context.Context, key string) (*document.Document, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	doc, ok := f.docs[key]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (f *fakeResolver) Close() error { return nil }

type fakeRenderer struct {
	err   error
	calls int
}

func (f *fakeRenderer) Render(_ context.Context, doc document.Document) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("artifact:" + doc.Markdown), nil
}

func (f *fakeRenderer) ContentType() string { return "application/x-test" }

func TestRender_Found(t *testing.T) {
	res := &fakeResolver{docs: map[string]document.Document{
		"menu-1": {Key: "menu-1", Markdown: "# Special"},
	}}
	rnd := &fakeRenderer{}
	p := New(res, rnd)

	data, found, err := p.Render(context.Background(), "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("found = false")
	}
	if string(data) != "artifact:# Special" {
		t.Errorf("data = %q", data)
	}
	if p.ContentType() != "application/x-test" {
		t.Errorf("ContentType() = %q", p.ContentType())
	}
}

func TestRender_NotFound(t *testing.T) {
	rnd := &fakeRenderer{}
	p := New(&fakeResolver{}, rnd)

	data, found, err := p.Render(context.Background(), "missing")
	if err != nil {
		t.Fatalf("not found reported as error: %v", err)
	}
	if found || data != nil {
		t.Errorf("Render() = %q, %v; want nil, false", data, found)
	}
	if rnd.calls != 0 {
		t.Errorf("renderer called %d times for a missing document", rnd.calls)
	}
}

func TestRender_ResolverFailure(t *testing.T) {
	p := New(&fakeResolver{err: stderrors.New("connection refused")}, &fakeRenderer{})

	_, found, err := p.Render(context.Background(), "menu-1")
	if err == nil {
		t.Fatal("resolver failure swallowed")
	}
	if found {
		t.Error("found = true on failure")
	}
	if errors.GetCode(err) != errors.CodeDatabase {
		t.Errorf("code = %v, want %v", errors.GetCode(err), errors.CodeDatabase)
	}
}

func TestRender_RendererFailureUnchanged(t *testing.T) {
	want := errors.New(render.CodeRenderFailed, "layout broke")
	res := &fakeResolver{docs: map[string]document.Document{"k": {Key: "k"}}}
	p := New(res, &fakeRenderer{err: want})

	_, _, err := p.Render(context.Background(), "k")
	if err != want {
		t.Errorf("err = %v, want the renderer's error unchanged", err)
	}
}

func TestRender_EmptyKey(t *testing.T) {
	res := &fakeResolver{}
	p := New(res, &fakeRenderer{})

	_, _, err := p.Render(context.Background(), "")
	if errors.GetCode(err) != errors.CodeInvalidInput {
		t.Errorf("code = %v", errors.GetCode(err))
	}
	if res.calls != 0 {
		t.Error("resolver called for empty key")
	}
}

func TestRender_DeterministicPDF(t *testing.T) {
	res := &fakeResolver{docs: map[string]document.Document{
		"menu-1": {Key: "menu-1", Name: "Lunch", Markdown: "# Special\n- Soup"},
	}}
	rnd, err := render.New("pdf", render.Options{})
	if err != nil {
		t.Fatal(err)
	}
	p := New(res, rnd)

	a, _, err := p.Render(context.Background(), "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := p.Render(context.Background(), "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("pipeline output not deterministic")
	}
}
