// Package chunker divides Markdown documents into bounded, header-tagged
// segments for embedding and retrieval.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docchunk/internal/segment"
)

// Refiner divides text into semantically coherent spans. Implementations may
// block on network calls; a call still running at the refine deadline is
// abandoned and its segment kept unrefined.
type Refiner interface {
	Refine(ctx context.Context, text string) ([]string, error)
}

// RefinerFunc adapts a function to Refiner.
type RefinerFunc func(ctx context.Context, text string) ([]string, error)

// Refine calls f.
func (f RefinerFunc) Refine(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

var errNoSpans = errors.New("refiner returned no spans")

// Option configures a Chunker.
type Option func(*Chunker)

// WithRefiner sets the refinement collaborator used when Config.Refine is on.
func WithRefiner(r Refiner) Option {
	return func(c *Chunker) { c.refiner = r }
}

// WithObserver sets the observer told about every stage.
func WithObserver(o Observer) Option {
	return func(c *Chunker) {
		if o != nil {
			c.obs = o
		}
	}
}

// Chunker runs the chunking pipeline. It holds no per-document state and is
// safe for concurrent use.
type Chunker struct {
	cfg      Config
	rules    []headerRule
	splitter *SizeSplitter
	refiner  Refiner
	obs      Observer
}

// New validates cfg and returns a Chunker.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Chunker{cfg: cfg, obs: nopObserver{}}
	for _, o := range opts {
		o(c)
	}
	if cfg.Refine && c.refiner == nil {
		return nil, fmt.Errorf("%w: refinement enabled without a refiner", ErrInvalidConfig)
	}

	splitter, err := NewSizeSplitter(cfg.ChunkSize, cfg.Separators)
	if err != nil {
		return nil, err
	}
	c.splitter = splitter
	c.rules = resolveHeaders(cfg.Headers)
	return c, nil
}

// Config returns the configuration the Chunker was built with.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk runs text through every enabled stage. meta is attached to every
// segment. The only error is ctx being done before work starts.
func (c *Chunker) Chunk(ctx context.Context, text string, meta segment.Metadata) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var r run

	c.stage(ctx, &r, StageSplit, true, func([]segment.Segment) ([]segment.Segment, []int, []Signal) {
		return c.initial(text, meta), nil, nil
	})
	c.stage(ctx, &r, StageRefine, c.cfg.Refine, func(in []segment.Segment) ([]segment.Segment, []int, []Signal) {
		return c.refine(ctx, in)
	})
	c.stage(ctx, &r, StageSubSplit, c.cfg.SubSplit, c.subSplit)
	c.stage(ctx, &r, StageNormalize, c.cfg.Normalize, c.normalize)
	c.stage(ctx, &r, StageMerge, c.cfg.MinChunk > 0, func(in []segment.Segment) ([]segment.Segment, []int, []Signal) {
		out, where := merge(in, c.cfg.MinChunk, c.cfg.ChunkSize, c.cfg.MergeMode)
		return out, where, nil
	})

	return Result{Segments: r.segs, Signals: c.unresolved(r)}, nil
}

// run is the state carried between stages. Signal indices always point into
// segs.
type run struct {
	segs    []segment.Segment
	signals []Signal
}

// stageFunc transforms the segments of one stage. where[i] is the index in
// out of the first segment produced from in[i].
type stageFunc func(in []segment.Segment) (out []segment.Segment, where []int, sigs []Signal)

// stage runs fn when enabled, reports the boundary to the observer and moves
// earlier signals onto the new segment positions.
func (c *Chunker) stage(ctx context.Context, r *run, name string, enabled bool, fn stageFunc) {
	if !enabled {
		c.obs.StageDone(ctx, StageReport{Stage: name, In: len(r.segs), Out: len(r.segs), Skipped: true})
		return
	}
	start := time.Now()
	out, where, sigs := fn(r.segs)
	c.obs.StageDone(ctx, StageReport{
		Stage:    name,
		In:       len(r.segs),
		Out:      len(out),
		Duration: time.Since(start),
		Signals:  sigs,
	})
	for i := range r.signals {
		if j := r.signals[i].Index; j >= 0 && j < len(where) {
			r.signals[i].Index = min(where[j], len(out)-1)
		}
	}
	r.segs = out
	r.signals = append(r.signals, sigs...)
}

// unresolved drops oversized signals for segments a later stage brought
// within the target.
func (c *Chunker) unresolved(r run) []Signal {
	var out []Signal
	for _, s := range r.signals {
		if s.Index < 0 || s.Index >= len(r.segs) {
			continue
		}
		if s.Kind == SignalOversized && EffectiveLength(r.segs[s.Index].Content) <= c.cfg.ChunkSize {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Chunker) initial(text string, meta segment.Metadata) []segment.Segment {
	switch c.cfg.Strategy {
	case StrategyNone:
		return []segment.Segment{segment.New(strings.Join(trimBlankLines(strings.Split(text, "\n")), "\n"), meta)}
	case StrategyPlain:
		var out []segment.Segment
		for _, part := range SplitText(text, c.cfg.ChunkSize, c.cfg.ChunkOverlap) {
			out = append(out, segment.New(part, meta))
		}
		return out
	default:
		return splitHeaders(text, meta, c.rules, c.cfg.StripHeaders, c.cfg.KeepEmpty)
	}
}

// refine sends every non-empty segment to the refiner under one deadline for
// the document. A failed segment is passed through as it was.
func (c *Chunker) refine(ctx context.Context, segs []segment.Segment) ([]segment.Segment, []int, []Signal) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefineTimeout)
	defer cancel()

	spans := make([][]string, len(segs))
	errs := make([]error, len(segs))

	var g errgroup.Group
	g.SetLimit(c.cfg.RefineConcurrency)
	for i, s := range segs {
		if s.Empty() {
			continue
		}
		i, s := i, s
		g.Go(func() error {
			got, err := c.refineOne(ctx, s.Content)
			if err == nil {
				got = nonBlank(got)
				if len(got) == 0 {
					err = errNoSpans
				}
			}
			spans[i], errs[i] = got, err
			return nil
		})
	}
	_ = g.Wait()

	var (
		out   []segment.Segment
		where = make([]int, len(segs))
		sigs  []Signal
	)
	for i, s := range segs {
		where[i] = len(out)
		if errs[i] != nil {
			sigs = append(sigs, Signal{
				Kind:    SignalRefineSkipped,
				Stage:   StageRefine,
				Index:   len(out),
				Message: errs[i].Error(),
				Size:    s.Len(),
			})
		}
		if spans[i] == nil || errs[i] != nil {
			out = append(out, s)
			continue
		}
		for _, sp := range spans[i] {
			out = append(out, segment.New(sp, s.Metadata))
		}
	}
	return out, where, sigs
}

// refineOne calls the refiner in its own goroutine so that a call ignoring
// ctx is abandoned at the deadline. Panics become errors.
func (c *Chunker) refineOne(ctx context.Context, text string) ([]string, error) {
	type result struct {
		spans []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("refiner panic: %v", r)}
			}
		}()
		spans, err := c.refiner.Refine(ctx, text)
		done <- result{spans, err}
	}()

	select {
	case r := <-done:
		return r.spans, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("refine abandoned: %w", ctx.Err())
	}
}

func (c *Chunker) subSplit(segs []segment.Segment) ([]segment.Segment, []int, []Signal) {
	var (
		out   []segment.Segment
		where = make([]int, len(segs))
		sigs  []Signal
	)
	for i, s := range segs {
		where[i] = len(out)
		parts, ps := c.splitter.Split(s)
		for _, sig := range ps {
			sig.Index += len(out)
			sigs = append(sigs, sig)
		}
		out = append(out, parts...)
	}
	return out, where, sigs
}

// normalize re-splits prose segments still above the target, with overlap.
// Segments holding fenced code are left whole.
func (c *Chunker) normalize(segs []segment.Segment) ([]segment.Segment, []int, []Signal) {
	var out []segment.Segment
	where := make([]int, len(segs))
	for i, s := range segs {
		where[i] = len(out)
		if EffectiveLength(s.Content) <= c.cfg.ChunkSize || HasFence(s.Content) {
			out = append(out, s)
			continue
		}
		for _, part := range SplitText(s.Content, c.cfg.ChunkSize, c.cfg.ChunkOverlap) {
			out = append(out, segment.New(part, s.Metadata))
		}
	}
	return out, where, nil
}

func nonBlank(spans []string) []string {
	var out []string
	for _, s := range spans {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
