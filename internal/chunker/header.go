package chunker

import (
	"sort"
	"strings"

	"github.com/dgallion1/docchunk/internal/segment"
)

// HeaderOptions controls SplitHeaders.
type HeaderOptions struct {
	Headers      []HeaderPair
	StripHeaders bool // drop header lines from segment content
	KeepEmpty    bool // emit header-only sections as empty segments
}

// headerRule is a HeaderPair with its resolved stack level.
type headerRule struct {
	prefix string
	name   string
	level  int
}

type headerEntry struct {
	level int
	name  string
	text  string
}

// resolveHeaders orders pairs longest prefix first and assigns levels.
func resolveHeaders(pairs []HeaderPair) []headerRule {
	rules := make([]headerRule, len(pairs))
	for i, p := range pairs {
		level := p.Level
		if level == 0 {
			if strings.Trim(p.Prefix, "#") == "" {
				level = len(p.Prefix)
			} else {
				level = i + 1
			}
		}
		rules[i] = headerRule{prefix: p.Prefix, name: p.Name, level: level}
	}
	sort.SliceStable(rules, func(a, b int) bool {
		return len(rules[a].prefix) > len(rules[b].prefix)
	})
	return rules
}

// match returns the rule line is a header for, and the header text.
func matchHeader(rules []headerRule, line string) (headerRule, string, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	for _, r := range rules {
		if !strings.HasPrefix(trimmed, r.prefix) {
			continue
		}
		rest := trimmed[len(r.prefix):]
		if rest == "" || rest[0] == ' ' {
			return r, strings.TrimSpace(rest), true
		}
	}
	return headerRule{}, "", false
}

// SplitHeaders divides Markdown text into one segment per run of lines under
// a stable header path. Each segment's metadata is base plus the header stack
// active where its content began. Fenced code blocks are never scanned for
// headers.
func SplitHeaders(text string, base segment.Metadata, opts HeaderOptions) []segment.Segment {
	return splitHeaders(text, base, resolveHeaders(opts.Headers), opts.StripHeaders, opts.KeepEmpty)
}

func splitHeaders(text string, base segment.Metadata, rules []headerRule, strip, keepEmpty bool) []segment.Segment {
	var (
		out     []segment.Segment
		stack   []headerEntry
		fence   fenceState
		lines   []string
		meta    = base
		headed  bool // current section was opened by a header
		emitted bool
	)

	finalize := func() {
		body := trimBlankLines(lines)
		lines = lines[:0]
		if len(body) == 0 {
			if headed && strip && keepEmpty {
				out = append(out, segment.New("", meta))
				emitted = true
			}
			return
		}
		out = append(out, segment.New(strings.Join(body, "\n"), meta))
		emitted = true
	}

	for _, line := range strings.Split(text, "\n") {
		if fence.active {
			fence.step(line)
			lines = append(lines, line)
			continue
		}
		if fence.step(line) == lineOpen {
			lines = append(lines, line)
			continue
		}

		rule, title, ok := matchHeader(rules, line)
		if !ok {
			lines = append(lines, line)
			continue
		}

		finalize()
		for len(stack) > 0 && stack[len(stack)-1].level >= rule.level {
			stack = stack[:len(stack)-1]
		}
		stack = append(stack, headerEntry{level: rule.level, name: rule.name, text: title})
		meta = stackMetadata(base, stack)
		headed = true
		if !strip {
			lines = append(lines, line)
		}
	}
	finalize()

	if !emitted && !strip {
		out = append(out, segment.New("", base))
	}
	return out
}

func stackMetadata(base segment.Metadata, stack []headerEntry) segment.Metadata {
	m := base
	for _, h := range stack {
		m = m.With(h.name, h.text)
	}
	return m
}
