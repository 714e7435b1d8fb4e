package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	backtickFence = "```"
	tildeFence    = "~~~"
)

// fenceState tracks whether the scanner is inside a fenced code block.
type fenceState struct {
	active bool
	marker string
}

// lineKind classifies a line relative to fenced code.
type lineKind int

const (
	lineText  lineKind = iota // ordinary line outside any fence
	lineOpen                  // opens a fence
	lineCode                  // inside an open fence
	lineClose                 // closes the open fence
)

// fenced reports whether the line belongs to a fenced block, markers
// included.
func (k lineKind) fenced() bool { return k != lineText }

// step classifies line and advances the state past it.
func (f *fenceState) step(line string) lineKind {
	trimmed := strings.TrimSpace(line)
	if f.active {
		if strings.HasPrefix(trimmed, f.marker) {
			f.active = false
			f.marker = ""
			return lineClose
		}
		return lineCode
	}
	for _, m := range [...]string{backtickFence, tildeFence} {
		if strings.HasPrefix(trimmed, m) && strings.Count(trimmed, m) == 1 {
			f.active = true
			f.marker = m
			return lineOpen
		}
	}
	return lineText
}

// classifyLines returns the fence kind of every line.
func classifyLines(lines []string) []lineKind {
	var f fenceState
	kinds := make([]lineKind, len(lines))
	for i, l := range lines {
		kinds[i] = f.step(l)
	}
	return kinds
}

// EffectiveLength counts the code points of text, skipping fenced code
// blocks. A fence's open and close lines count as part of the block. Each
// counted line also counts the newline that follows it.
func EffectiveLength(text string) int {
	lines := strings.Split(text, "\n")
	return effectiveLines(lines, classifyLines(lines))
}

func effectiveLines(lines []string, kinds []lineKind) int {
	n := 0
	for i, l := range lines {
		if kinds[i].fenced() {
			continue
		}
		n += utf8.RuneCountInString(l)
		if i < len(lines)-1 {
			n++
		}
	}
	return n
}

// FencedRanges returns the byte ranges [start, end) of the fenced code blocks
// in text, marker lines and their newlines included. An unclosed fence runs to
// the end of text.
func FencedRanges(text string) [][2]int {
	var (
		out   [][2]int
		f     fenceState
		start int
		pos   int
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		switch f.step(strings.TrimSuffix(line, "\n")) {
		case lineOpen:
			start = pos
		case lineClose:
			out = append(out, [2]int{start, pos + len(line)})
		}
		pos += len(line)
	}
	if f.active {
		out = append(out, [2]int{start, len(text)})
	}
	return out
}

// HasFence reports whether text contains a fenced code block.
func HasFence(text string) bool {
	lines := strings.Split(text, "\n")
	for _, k := range classifyLines(lines) {
		if k == lineOpen {
			return true
		}
	}
	return false
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// trimBlankLines drops blank lines from both ends.
func trimBlankLines(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && isBlank(lines[start]) {
		start++
	}
	for end > start && isBlank(lines[end-1]) {
		end--
	}
	return lines[start:end]
}
