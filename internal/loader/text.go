package loader

import (
	"bufio"
	"io"
	"strings"
)

// TextLoader handles plain text files. Paragraphs are kept; runs of blank
// lines collapse to one.
type TextLoader struct{}

func (l *TextLoader) Load(r io.Reader, filename string) (*Document, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var w markdownWriter
	var current strings.Builder

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			w.block(escapeHeading(current.String()))
			current.Reset()
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	w.block(escapeHeading(current.String()))

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return newDocument(filename, "text", "", w.String()), nil
}
