// Package loader turns uploaded files into Markdown text for the chunker.
// Formats with structure of their own (headings, pages, row batches) are
// rendered with "#" header lines so header splitting sees the hierarchy.
package loader

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/dgallion1/docchunk/internal/segment"
)

// Document is a loaded file rendered as Markdown.
type Document struct {
	Title  string
	Source string
	Format string
	Text   string
}

// Metadata returns the document-level keys every chunk inherits.
func (d *Document) Metadata() segment.Metadata {
	var m segment.Metadata
	if d.Source != "" {
		m = m.With("source", d.Source)
	}
	if d.Title != "" {
		m = m.With("title", d.Title)
	}
	if d.Format != "" {
		m = m.With("format", d.Format)
	}
	return m
}

// Loader reads one file format.
type Loader interface {
	Load(r io.Reader, filename string) (*Document, error)
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate loader for a filename.
func ForFile(filename string) (Loader, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextLoader{}, nil
	case ".md", ".markdown":
		return &MarkdownLoader{}, nil
	case ".csv":
		return &CSVLoader{}, nil
	case ".html", ".htm":
		return &HTMLLoader{}, nil
	case ".pdf":
		return &PDFLoader{}, nil
	case ".docx":
		return &DOCXLoader{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return SupportedExtensions[ext]
}

// Load picks a loader by extension and reads r.
func Load(r io.Reader, filename string) (*Document, error) {
	l, err := ForFile(filename)
	if err != nil {
		return nil, err
	}
	return l.Load(r, filename)
}

func baseTitle(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newDocument(filename, format, title, text string) *Document {
	if title == "" {
		title = baseTitle(filename)
	}
	return &Document{
		Title:  norm.NFC.String(strings.TrimSpace(title)),
		Source: filepath.Base(filename),
		Format: format,
		Text:   norm.NFC.String(text),
	}
}

// markdownWriter accumulates blocks separated by blank lines.
type markdownWriter struct {
	b strings.Builder
}

func (w *markdownWriter) heading(level int, text string) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return
	}
	level = min(max(level, 1), 6)
	w.block(strings.Repeat("#", level) + " " + text)
}

func (w *markdownWriter) block(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if w.b.Len() > 0 {
		w.b.WriteString("\n\n")
	}
	w.b.WriteString(text)
}

func (w *markdownWriter) String() string {
	return w.b.String()
}

// escapeHeading keeps body text that happens to start with "#" from being
// read as a header line.
func escapeHeading(text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if strings.HasPrefix(strings.TrimLeft(l, " \t"), "#") {
			lines[i] = `\` + strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(lines, "\n")
}
