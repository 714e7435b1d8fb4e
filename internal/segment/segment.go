// Package segment defines the unit handed between chunking stages and to
// downstream indexing.
package segment

import (
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Segment is a bounded piece of document content plus the metadata that was
// active where the content began. Stages treat segments as values and build
// new ones instead of editing them.
type Segment struct {
	Content  string   `json:"content" yaml:"content"`
	Metadata Metadata `json:"metadata" yaml:"metadata"`
}

// New returns a Segment holding content and meta.
func New(content string, meta Metadata) Segment {
	return Segment{Content: content, Metadata: meta}
}

// Len is the content length in code points.
func (s Segment) Len() int {
	return utf8.RuneCountInString(s.Content)
}

// Empty reports whether the content is blank.
func (s Segment) Empty() bool {
	return strings.TrimSpace(s.Content) == ""
}

// Markdown renders the segment content. With withMeta set and non-empty
// metadata, the metadata is prepended as a YAML front matter block.
func (s Segment) Markdown(withMeta bool) string {
	if !withMeta || s.Metadata.Len() == 0 {
		return s.Content
	}
	out, err := yaml.Marshal(s.Metadata)
	if err != nil {
		return s.Content
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(out)
	sb.WriteString("---\n\n")
	sb.WriteString(s.Content)
	return sb.String()
}

// Contents returns the content of every segment, in order.
func Contents(segs []Segment) []string {
	out := make([]string, len(segs))
	for i, s := range segs {
		out[i] = s.Content
	}
	return out
}
