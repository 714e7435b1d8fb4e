// Package refine divides text at points where the meaning shifts, measured
// by the embedding distance between neighbouring sentences.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/embed"
)

// ErrInvalidConfig is wrapped by configuration errors.
var ErrInvalidConfig = errors.New("invalid refine config")

// Threshold selects how the breakpoint distance is derived from the
// distances between neighbouring sentence windows.
type Threshold string

const (
	Percentile        Threshold = "percentile"
	StandardDeviation Threshold = "standard_deviation"
	Interquartile     Threshold = "interquartile"
	Gradient          Threshold = "gradient"
)

// defaultAmounts are used when Config.Amount is zero.
var defaultAmounts = map[Threshold]float64{
	Percentile:        95,
	StandardDeviation: 3,
	Interquartile:     1.5,
	Gradient:          95,
}

// Config controls a Semantic refiner.
type Config struct {
	Threshold   Threshold `json:"threshold" yaml:"threshold"`
	Amount      float64   `json:"amount" yaml:"amount"`               // percentiles accept 0-100 or a 0-1 fraction
	BufferSize  int       `json:"buffer_size" yaml:"buffer_size"`     // sentences on each side joined before embedding
	MinSpanSize int       `json:"min_span_size" yaml:"min_span_size"` // code points; shorter spans run into the next
	Concurrency int       `json:"concurrency" yaml:"concurrency"`
}

// DefaultConfig returns a percentile threshold at 95 with a one-sentence
// buffer.
func DefaultConfig() Config {
	return Config{
		Threshold:   Percentile,
		Amount:      95,
		BufferSize:  1,
		Concurrency: 4,
	}
}

func (c Config) Validate() error {
	if _, ok := defaultAmounts[c.Threshold]; !ok {
		return fmt.Errorf("%w: unknown threshold %q", ErrInvalidConfig, c.Threshold)
	}
	if c.Amount < 0 {
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidConfig)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: buffer_size must not be negative", ErrInvalidConfig)
	}
	if c.MinSpanSize < 0 {
		return fmt.Errorf("%w: min_span_size must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Semantic splits text between sentences whose embedding distance exceeds
// the configured threshold. It implements chunker.Refiner.
type Semantic struct {
	cfg   Config
	embed embed.Func
	log   *slog.Logger
}

// NewSemantic returns a refiner embedding text with fn.
func NewSemantic(fn embed.Func, cfg Config, log *slog.Logger) (*Semantic, error) {
	if fn == nil {
		return nil, fmt.Errorf("%w: embedding function required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Amount == 0 {
		cfg.Amount = defaultAmounts[cfg.Threshold]
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Semantic{cfg: cfg, embed: fn, log: log}, nil
}

var sentenceEnd = regexp.MustCompile(`[.?!]+(\s+|$)|[。！？]+|\n\s*\n`)

// sentence is a byte range of the input.
type sentence struct {
	start, end int
}

// splitSentences treats every fenced code block as a single sentence so no
// span boundary falls inside one.
func splitSentences(text string) []sentence {
	var out []sentence
	pos := 0
	for _, r := range chunker.FencedRanges(text) {
		out = appendProse(out, text, pos, r[0])
		out = append(out, sentence{r[0], r[1]})
		pos = r[1]
	}
	return appendProse(out, text, pos, len(text))
}

func appendProse(out []sentence, text string, lo, hi int) []sentence {
	start := lo
	for _, loc := range sentenceEnd.FindAllStringIndex(text[lo:hi], -1) {
		end := lo + loc[1]
		if strings.TrimSpace(text[start:end]) != "" {
			out = append(out, sentence{start, end})
		}
		start = end
	}
	if strings.TrimSpace(text[start:hi]) != "" {
		out = append(out, sentence{start, hi})
	}
	return out
}

// Refine implements chunker.Refiner. Spans cover the input in order and keep
// its original whitespace inside each span.
func (s *Semantic) Refine(ctx context.Context, text string) ([]string, error) {
	sents := splitSentences(text)
	if len(sents) < 2 {
		return []string{strings.TrimSpace(text)}, nil
	}

	windows := make([]string, len(sents))
	for i := range sents {
		lo := max(0, i-s.cfg.BufferSize)
		hi := min(len(sents)-1, i+s.cfg.BufferSize)
		windows[i] = strings.TrimSpace(text[sents[lo].start:sents[hi].end])
	}

	vecs, err := s.embedAll(ctx, windows)
	if err != nil {
		return nil, err
	}

	distances := make([]float64, len(vecs)-1)
	for i := range distances {
		distances[i] = 1 - cosine(vecs[i], vecs[i+1])
	}
	breaks := s.breakpoints(distances)

	var spans []string
	start := 0
	for i, sent := range sents[:len(sents)-1] {
		if !breaks[i] {
			continue
		}
		span := strings.TrimSpace(text[start:sent.end])
		if utf8.RuneCountInString(span) < s.cfg.MinSpanSize {
			continue
		}
		spans = append(spans, span)
		start = sent.end
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		spans = append(spans, tail)
	}

	s.log.Debug("semantic refine", "sentences", len(sents), "spans", len(spans))
	return spans, nil
}

func (s *Semantic) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, t := range texts {
		i, t := i, t
		g.Go(func() error {
			v, err := s.embed(ctx, t)
			if err != nil {
				return fmt.Errorf("embed sentence window %d: %w", i, err)
			}
			vecs[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vecs, nil
}

// breakpoints marks the distances that exceed the threshold.
func (s *Semantic) breakpoints(distances []float64) []bool {
	values := distances
	if s.cfg.Threshold == Gradient {
		values = gradient(distances)
	}
	limit := s.threshold(values)

	out := make([]bool, len(distances))
	for i, v := range values {
		out[i] = v > limit
	}
	return out
}

func (s *Semantic) threshold(values []float64) float64 {
	amount := s.cfg.Amount
	switch s.cfg.Threshold {
	case StandardDeviation:
		mean, std := meanStd(values)
		return mean + amount*std
	case Interquartile:
		mean, _ := meanStd(values)
		iqr := embed.Percentile(values, 75) - embed.Percentile(values, 25)
		return mean + amount*iqr
	default:
		if amount <= 1 {
			amount *= 100
		}
		return embed.Percentile(values, amount)
	}
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// gradient is the discrete derivative: one-sided at the ends, central
// differences inside.
func gradient(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = values[1] - values[0]
	out[n-1] = values[n-1] - values[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (values[i+1] - values[i-1]) / 2
	}
	return out
}
