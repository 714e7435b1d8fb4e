package chunker

import (
	"unicode/utf8"

	"github.com/dgallion1/docchunk/internal/segment"
)

const mergeSeparator = "\n\n"

// Merge fuses adjacent segments shorter than min into the segment that
// follows, as long as the fused content stays within ceiling. Metadata keys of
// the earlier segment win. In MergeSameSection mode segments with different
// metadata are never fused. A non-positive min returns segs unchanged.
func Merge(segs []segment.Segment, min, ceiling int, mode MergeMode) []segment.Segment {
	out, _ := merge(segs, min, ceiling, mode)
	return out
}

// merge is Merge that also reports where[i], the output index holding segs[i].
func merge(segs []segment.Segment, min, ceiling int, mode MergeMode) ([]segment.Segment, []int) {
	where := make([]int, len(segs))
	for i := range where {
		where[i] = i
	}
	if min <= 0 || len(segs) < 2 {
		return segs, where
	}

	out := make([]segment.Segment, 0, len(segs))
	buf := segs[0]
	bufLen := buf.Len()
	sepLen := utf8.RuneCountInString(mergeSeparator)

	for i, cur := range segs[1:] {
		curLen := cur.Len()
		fits := bufLen < min && bufLen+sepLen+curLen <= ceiling
		if fits && mode == MergeSameSection && !buf.Metadata.Equal(cur.Metadata) {
			fits = false
		}
		if fits {
			buf = segment.New(buf.Content+mergeSeparator+cur.Content, buf.Metadata.Merge(cur.Metadata))
			bufLen += sepLen + curLen
			where[i+1] = len(out)
			continue
		}
		out = append(out, buf)
		buf, bufLen = cur, curLen
		where[i+1] = len(out)
	}
	return append(out, buf), where
}
