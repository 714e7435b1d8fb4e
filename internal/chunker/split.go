package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docchunk/internal/segment"
)

// SizeSplitter divides segments whose effective length exceeds a target.
// It never splits inside a fenced code block and does not count fenced code
// toward the target.
type SizeSplitter struct {
	target int
	seps   []*regexp.Regexp
}

// NewSizeSplitter compiles separators, highest priority first. A nil slice
// uses DefaultSeparators.
func NewSizeSplitter(target int, separators []string) (*SizeSplitter, error) {
	if target <= 0 {
		return nil, fmt.Errorf("%w: target must be positive, got %d", ErrInvalidConfig, target)
	}
	if separators == nil {
		separators = DefaultSeparators()
	}
	seps, err := compileSeparators(separators)
	if err != nil {
		return nil, err
	}
	return &SizeSplitter{target: target, seps: seps}, nil
}

// Split returns seg unchanged when it fits, otherwise the sub-segments that
// cover it in order. Every sub-segment carries seg's metadata. Signals index
// into the returned slice.
func (s *SizeSplitter) Split(seg segment.Segment) (out []segment.Segment, signals []Signal) {
	if EffectiveLength(seg.Content) <= s.target {
		return []segment.Segment{seg}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = []segment.Segment{seg}
			signals = []Signal{{
				Kind:    SignalSplitFallback,
				Stage:   StageSubSplit,
				Message: fmt.Sprintf("split failed, segment kept whole: %v", r),
				Size:    EffectiveLength(seg.Content),
			}}
		}
	}()

	for _, chunk := range s.splitLines(strings.Split(seg.Content, "\n")) {
		content := strings.Join(chunk, "\n")
		if n := EffectiveLength(content); n > s.target {
			signals = append(signals, Signal{
				Kind:    SignalOversized,
				Stage:   StageSubSplit,
				Index:   len(out),
				Message: fmt.Sprintf("no safe split point, %d exceeds target %d", n, s.target),
				Size:    n,
			})
		}
		out = append(out, segment.New(content, seg.Metadata))
	}
	if len(out) == 0 {
		return []segment.Segment{seg}, nil
	}
	return out, signals
}

// lineBuffer accumulates lines with their fence kinds and the running
// effective length. running counts one newline after every text line.
type lineBuffer struct {
	lines   []string
	kinds   []lineKind
	running int
}

func (b *lineBuffer) add(line string, kind lineKind) {
	b.lines = append(b.lines, line)
	b.kinds = append(b.kinds, kind)
	if !kind.fenced() {
		b.running += utf8.RuneCountInString(line) + 1
	}
}

func (b *lineBuffer) reset(lines []string, kinds []lineKind) {
	b.lines, b.kinds, b.running = nil, nil, 0
	for i := range lines {
		b.add(lines[i], kinds[i])
	}
}

// splitPoint returns the index that starts the carried-over tail of the
// buffer, or 0 when the buffer cannot be divided.
func (b *lineBuffer) splitPoint() int {
	// Paragraph break: a blank text line between two non-blank lines.
	for i := len(b.lines) - 2; i >= 1; i-- {
		if b.kinds[i] != lineText || !isBlank(b.lines[i]) {
			continue
		}
		if !isBlank(b.lines[i-1]) && !isBlank(b.lines[i+1]) {
			return i + 1
		}
	}
	// Otherwise before the last line that does not sit inside a fence.
	for i := len(b.lines) - 1; i >= 1; i-- {
		if b.kinds[i] == lineText || b.kinds[i] == lineOpen {
			return i
		}
	}
	return 0
}

func (s *SizeSplitter) splitLines(lines []string) [][]string {
	kinds := classifyLines(lines)
	var (
		chunks [][]string
		buf    lineBuffer
	)
	emit := func(ls []string) {
		if t := trimBlankLines(ls); len(t) > 0 {
			chunks = append(chunks, append([]string(nil), t...))
		}
	}

	for i, line := range lines {
		kind := kinds[i]
		if kind.fenced() {
			buf.add(line, kind)
			continue
		}

		n := utf8.RuneCountInString(line)
		if n <= s.target {
			for len(buf.lines) > 0 && buf.running+n > s.target {
				at := buf.splitPoint()
				if at == 0 {
					emit(buf.lines)
					buf.reset(nil, nil)
					break
				}
				emit(buf.lines[:at])
				buf.reset(buf.lines[at:], buf.kinds[at:])
			}
			buf.add(line, kind)
			continue
		}

		// A line longer than the target is cut at separators; the first
		// piece fills whatever room the buffer has left.
		pieces := packUnits(separatorUnits(line, s.seps, s.target), s.target-buf.running, s.target)
		if pieces[0] != "" {
			buf.add(pieces[0], lineText)
		}
		for _, p := range pieces[1:] {
			if p == "" {
				continue
			}
			emit(buf.lines)
			buf.reset(nil, nil)
			buf.add(p, lineText)
		}
	}
	emit(buf.lines)
	return chunks
}
