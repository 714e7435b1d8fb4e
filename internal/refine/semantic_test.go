package refine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// topicEmbed puts anything mentioning cats on one axis and everything else on
// the other.
func topicEmbed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(text, "Cat") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func newSemantic(t *testing.T, cfg Config) *Semantic {
	t.Helper()
	s, err := NewSemantic(topicEmbed, cfg, nil)
	require.NoError(t, err)
	return s
}

func TestSemantic_SplitsAtTopicShift(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 0

	spans, err := newSemantic(t, cfg).Refine(context.Background(), "Cats purr. Cats nap. Cars honk. Cars race.")
	require.NoError(t, err)
	assert.Equal(t, []string{"Cats purr. Cats nap.", "Cars honk. Cars race."}, spans)
}

func TestSemantic_FractionalPercentile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 0
	cfg.Amount = 0.95

	spans, err := newSemantic(t, cfg).Refine(context.Background(), "Cats purr. Cats nap. Cars honk. Cars race.")
	require.NoError(t, err)
	assert.Len(t, spans, 2)
}

func TestSemantic_KeepsInnerWhitespace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 0

	text := "# Pets\nCats purr.\nCats nap.\n\nCars honk.\nCars race."
	spans, err := newSemantic(t, cfg).Refine(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, "# Pets\nCats purr.\nCats nap.", spans[0])
	assert.Equal(t, "Cars honk.\nCars race.", spans[1])
}

func TestSemantic_StandardDeviation(t *testing.T) {
	text := "Cats purr. Cats nap. Cars honk. Cars race."

	cfg := Config{Threshold: StandardDeviation, Amount: 1}
	spans, err := newSemantic(t, cfg).Refine(context.Background(), text)
	require.NoError(t, err)
	assert.Len(t, spans, 2)

	// Three deviations above the mean is never reached with four sentences.
	cfg.Amount = 0
	spans, err = newSemantic(t, cfg).Refine(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, []string{text}, spans)
}

func TestSemantic_MinSpanSizeDefersBreak(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 0
	cfg.MinSpanSize = 50

	text := "Cats purr. Cats nap. Cars honk. Cars race."
	spans, err := newSemantic(t, cfg).Refine(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, []string{text}, spans)
}

func TestSemantic_SingleSentence(t *testing.T) {
	calls := 0
	fn := func(context.Context, string) ([]float32, error) {
		calls++
		return []float32{1}, nil
	}
	s, err := NewSemantic(fn, DefaultConfig(), nil)
	require.NoError(t, err)

	spans, err := s.Refine(context.Background(), "  only one sentence here  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"only one sentence here"}, spans)
	assert.Zero(t, calls)
}

func TestSemantic_EmbeddingErrorPropagates(t *testing.T) {
	boom := errors.New("model not loaded")
	fn := func(context.Context, string) ([]float32, error) { return nil, boom }
	s, err := NewSemantic(fn, DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = s.Refine(context.Background(), "One. Two. Three.")
	assert.ErrorIs(t, err, boom)
}

func TestNewSemantic_Validates(t *testing.T) {
	_, err := NewSemantic(nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSemantic(topicEmbed, Config{Threshold: "median"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSemantic(topicEmbed, Config{Threshold: Percentile, BufferSize: -1}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSplitSentences(t *testing.T) {
	text := "First one. Second!  Third?\n\nA paragraph\nwithout stop\n\n日本語です。次"
	var got []string
	for _, s := range splitSentences(text) {
		got = append(got, strings.TrimSpace(text[s.start:s.end]))
	}
	assert.Equal(t, []string{"First one.", "Second!", "Third?", "A paragraph\nwithout stop", "日本語です。", "次"}, got)
}

func TestSplitSentences_FenceIsOneUnit(t *testing.T) {
	text := "Cats purr.\n```\nCars honk. Cars race.\n\nCars stop.\n```\nCars vroom."
	var got []string
	for _, s := range splitSentences(text) {
		got = append(got, strings.TrimSpace(text[s.start:s.end]))
	}
	assert.Equal(t, []string{"Cats purr.", "```\nCars honk. Cars race.\n\nCars stop.\n```", "Cars vroom."}, got)
}

func TestSemantic_NeverBreaksInsideFence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferSize = 0

	text := "Cats purr.\n```\nCars honk. Cars race.\n\nCars stop.\n```\nCars vroom."
	spans, err := newSemantic(t, cfg).Refine(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cats purr.", "```\nCars honk. Cars race.\n\nCars stop.\n```\nCars vroom."}, spans)
}

func TestGradient(t *testing.T) {
	assert.Equal(t, []float64{1, 0, -1}, gradient([]float64{0, 1, 0}))
	assert.Equal(t, []float64{0}, gradient([]float64{5}))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 1}))
}
