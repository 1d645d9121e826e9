package document

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/press/utils"
	"github.com/jmgilman/go/errors"
	"gopkg.in/yaml.v3"
)

// DirStore resolves documents from markdown files in a directory. The key
// "menu-1" maps to "<root>/menu-1.md", or the first other markdown extension
// that exists ("menu-1.markdown", ...). A YAML front matter block may set the
// document name; otherwise the key is used.
type DirStore struct {
	root string
}

// frontmatter holds the document fields read from a YAML header.
type frontmatter struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title"`
}

// NewDirStore returns a store reading from root, which must be a directory.
func NewDirStore(root string) (*DirStore, error) {
	root = utils.ExpandPath(root)
	st, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidConfig, "document directory %q", root)
	}
	if !st.IsDir() {
		return nil, errors.Newf(errors.CodeInvalidConfig, "document directory %q is not a directory", root)
	}
	return &DirStore{root: root}, nil
}

// Resolve reads the markdown file for key. Keys that would escape the root
// directory have no document.
func (d *DirStore) Resolve(_ context.Context, key string) (*Document, error) {
	if !validDirKey(key) {
		return nil, nil
	}

	b, err := d.read(key)
	if err != nil {
		return nil, errors.WithContext(
			errors.Wrap(err, errors.CodeDatabase, "read document"), "key", key)
	}
	if b == nil {
		return nil, nil
	}

	doc, err := ParseMarkdown(key, b)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// read returns the content of the first markdown file for key, or nil if
// there is none.
func (d *DirStore) read(key string) ([]byte, error) {
	for _, ext := range utils.MarkdownExtensions {
		for _, name := range []string{key + ext, key + strings.ToUpper(ext)} {
			b, err := os.ReadFile(filepath.Join(d.root, name))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if b == nil {
				b = []byte{}
			}
			return b, nil
		}
	}
	return nil, nil
}

// Keys lists the documents in the directory in lexical order. A key is
// listed once even if several of its markdown files exist.
func (d *DirStore) Keys(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "list documents")
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !utils.IsMarkdownFile(e.Name()) {
			continue
		}
		key := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if !validDirKey(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return slices.Compact(keys), nil
}

// Close is a no-op.
func (d *DirStore) Close() error { return nil }

// ParseMarkdown builds a document from raw markdown, reading the name from a
// YAML front matter block if one is present. The front matter is not part of
// the returned markdown.
func ParseMarkdown(key string, b []byte) (Document, error) {
	header, body := utils.SplitFrontmatter(b)
	doc := Document{Key: key, Name: key, Markdown: string(body)}
	if len(header) == 0 {
		return doc, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal(header, &fm); err != nil {
		return Document{}, errors.WithContext(
			errors.Wrap(err, errors.CodeInvalidInput, "parse front matter"), "key", key)
	}
	switch {
	case fm.Name != "":
		doc.Name = fm.Name
	case fm.Title != "":
		doc.Name = fm.Title
	}
	return doc, nil
}

func validDirKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return false
	}
	return !strings.ContainsRune(key, 0)
}
