package chunker

import (
	"strings"
	"unicode/utf8"
)

// SplitText breaks plain text into pieces of about size code points, with
// consecutive pieces sharing up to overlap code points of trailing words.
// Paragraphs are kept whole when they fit; larger ones are split by sentence,
// and sentences larger than size by word.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap >= size {
		overlap = size / 2
	}

	var result []string
	var current strings.Builder
	currentLen := 0

	for _, para := range splitByParagraphs(text) {
		paraLen := runeLen(para)

		// A paragraph larger than the target goes out on its own.
		if paraLen > size {
			if currentLen > 0 {
				result = append(result, current.String())
				current.Reset()
				currentLen = 0
			}
			result = append(result, splitBySentences(para, size, overlap)...)
			continue
		}

		if currentLen > 0 && currentLen+2+paraLen > size {
			result = append(result, current.String())
			currentLen = startWithOverlap(&current, current.String(), overlap, paraLen+2, size)
		}

		if currentLen > 0 {
			current.WriteString("\n\n")
			currentLen += 2
		}
		current.WriteString(para)
		currentLen += paraLen
	}

	if currentLen > 0 {
		result = append(result, current.String())
	}
	return result
}

// splitByParagraphs splits on blank lines.
func splitByParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// splitBySentences breaks a large paragraph into sentence-based pieces.
func splitBySentences(text string, size, overlap int) []string {
	var units []string
	for _, sent := range splitSentences(text) {
		if runeLen(sent) > size {
			units = append(units, splitByWords(sent, size)...)
			continue
		}
		units = append(units, sent)
	}

	var result []string
	var current strings.Builder
	currentLen := 0

	for _, u := range units {
		uLen := runeLen(u)
		if currentLen > 0 && currentLen+1+uLen > size {
			result = append(result, current.String())
			currentLen = startWithOverlap(&current, current.String(), overlap, uLen+1, size)
		}
		if currentLen > 0 {
			current.WriteString(" ")
			currentLen++
		}
		current.WriteString(u)
		currentLen += uLen
	}

	if currentLen > 0 {
		result = append(result, current.String())
	}
	return result
}

// splitSentences does basic sentence splitting on terminal punctuation.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range text {
		current.WriteRune(r)
		end := false
		switch r {
		case '.', '!', '?':
			end = i+1 < len(text) && (text[i+1] == ' ' || text[i+1] == '\n')
		case '。', '！', '？':
			end = true
		}
		if end {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// splitByWords cuts a run of text into windows of whole words. A single word
// longer than size is cut by code point.
func splitByWords(text string, size int) []string {
	var result []string
	var current strings.Builder
	currentLen := 0

	for _, w := range strings.Fields(text) {
		for runeLen(w) > size {
			if currentLen > 0 {
				result = append(result, current.String())
				current.Reset()
				currentLen = 0
			}
			r := []rune(w)
			result = append(result, string(r[:size]))
			w = string(r[size:])
		}
		wLen := runeLen(w)
		if currentLen > 0 && currentLen+1+wLen > size {
			result = append(result, current.String())
			current.Reset()
			currentLen = 0
		}
		if currentLen > 0 {
			current.WriteString(" ")
			currentLen++
		}
		current.WriteString(w)
		currentLen += wLen
	}
	if currentLen > 0 {
		result = append(result, current.String())
	}
	return result
}

// startWithOverlap resets b to the overlap tail of prev and returns its
// length. The tail is dropped when it would leave no room for next.
func startWithOverlap(b *strings.Builder, prev string, overlap, next, size int) int {
	b.Reset()
	tail := getOverlapText(prev, overlap)
	n := runeLen(tail)
	if n == 0 || n+next > size {
		return 0
	}
	b.WriteString(tail)
	return n
}

// getOverlapText returns the trailing words of text that fit in limit code
// points. It never returns the whole text.
func getOverlapText(text string, limit int) string {
	words := strings.Fields(text)
	if limit <= 0 || len(words) < 2 {
		return ""
	}
	n := 0
	start := len(words)
	for start > 1 {
		w := runeLen(words[start-1])
		if n > 0 {
			w++
		}
		if n+w > limit {
			break
		}
		n += w
		start--
	}
	if start == len(words) {
		return ""
	}
	return strings.Join(words[start:], " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
