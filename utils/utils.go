// Package utils provides helpers shared by the press commands.
package utils

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/mitchellh/go-homedir"
)

var yamlPattern = regexp.MustCompile(`(?m)^---\r?\n(\s*\r?\n)?`)

// SplitFrontmatter separates a leading YAML front matter block from the
// markdown body. If there is no front matter the header is nil.
func SplitFrontmatter(content []byte) (header, body []byte) {
	b := detectFrontmatter(content)
	if b[0] != 0 {
		return nil, content
	}
	header = content[:b[1]]
	header = yamlPattern.ReplaceAll(header, nil)
	return header, content[b[1]:]
}

func detectFrontmatter(c []byte) []int {
	if matches := yamlPattern.FindAllIndex(c, 2); len(matches) > 1 {
		return []int{matches[0][0], matches[1][1]}
	}
	return []int{-1, -1}
}

// ExpandPath expands tilde and all environment variables from the given path.
func ExpandPath(path string) string {
	s, err := homedir.Expand(path)
	if err == nil {
		return os.ExpandEnv(s)
	}
	return os.ExpandEnv(path)
}

// MarkdownExtensions lists the recognized markdown file extensions in order
// of preference.
var MarkdownExtensions = []string{".md", ".markdown", ".mdown", ".mkdn", ".mkd"}

// IsMarkdownFile reports whether the filename has a markdown extension.
func IsMarkdownFile(filename string) bool {
	return slices.Contains(MarkdownExtensions, strings.ToLower(filepath.Ext(filename)))
}

// GlamourStyle returns a glamour.TermRendererOption based on the given style.
func GlamourStyle(style string) glamour.TermRendererOption {
	if style == styles.AutoStyle {
		return glamour.WithAutoStyle()
	}
	return glamour.WithStylePath(style)
}
