package loader

import (
	"bytes"
	"io"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// MarkdownLoader passes Markdown through unchanged apart from front matter,
// which is stripped. The title comes from the front matter "title" key, then
// the first level-1 heading, then the file name.
type MarkdownLoader struct{}

func (l *MarkdownLoader) Load(r io.Reader, filename string) (*Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	src = bytes.ReplaceAll(src, []byte("\r\n"), []byte("\n"))

	body, fm := splitFrontMatter(src)
	title := fm.Title
	if title == "" {
		title = firstHeading(body)
	}
	return newDocument(filename, "markdown", title, strings.TrimSpace(string(body))), nil
}

type frontMatter struct {
	Title string `yaml:"title"`
}

// splitFrontMatter removes a leading "---" YAML block. Malformed front matter
// is left in the body.
func splitFrontMatter(src []byte) ([]byte, frontMatter) {
	var fm frontMatter
	if !bytes.HasPrefix(src, []byte("---\n")) {
		return src, fm
	}
	rest := src[4:]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return src, fm
	}
	after := rest[end+4:]
	if len(after) > 0 && after[0] != '\n' {
		return src, fm
	}
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return src, fm
	}
	return bytes.TrimLeft(after, "\n"), fm
}

func firstHeading(src []byte) string {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 1 {
			return string(h.Text(src))
		}
	}
	return ""
}
