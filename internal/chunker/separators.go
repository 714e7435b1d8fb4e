package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// splitKeep cuts text after every match of re, leaving the separator on the
// piece before it.
func splitKeep(text string, re *regexp.Regexp) []string {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var parts []string
	start := 0
	for _, loc := range locs {
		if loc[1] <= start {
			continue
		}
		parts = append(parts, text[start:loc[1]])
		start = loc[1]
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// separatorUnits breaks text into pieces no longer than limit, trying each
// separator in turn. A piece with no separator left to try is returned whole.
func separatorUnits(text string, seps []*regexp.Regexp, limit int) []string {
	if utf8.RuneCountInString(text) <= limit || len(seps) == 0 {
		return []string{text}
	}
	parts := splitKeep(text, seps[0])
	if len(parts) == 1 {
		return separatorUnits(text, seps[1:], limit)
	}
	var out []string
	for _, p := range parts {
		if utf8.RuneCountInString(p) > limit {
			out = append(out, separatorUnits(p, seps[1:], limit)...)
			continue
		}
		out = append(out, p)
	}
	return out
}

// packUnits greedily joins units into pieces. The first piece holds at most
// firstCap code points and may be empty when nothing fits; every later piece
// holds at most limit unless a single unit is larger.
func packUnits(units []string, firstCap, limit int) []string {
	pieces := []string{""}
	var cur strings.Builder
	curLen := 0
	capacity := firstCap

	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if curLen+n > capacity && (curLen > 0 || len(pieces) == 1) {
			pieces[len(pieces)-1] = strings.TrimSpace(cur.String())
			pieces = append(pieces, "")
			cur.Reset()
			curLen = 0
			capacity = limit
		}
		cur.WriteString(u)
		curLen += n
	}
	pieces[len(pieces)-1] = strings.TrimSpace(cur.String())
	return pieces
}
