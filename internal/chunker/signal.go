package chunker

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgallion1/docchunk/internal/segment"
)

// Stage names reported to observers and carried on signals.
const (
	StageSplit     = "split"
	StageRefine    = "refine"
	StageSubSplit  = "sub_split"
	StageNormalize = "normalize"
	StageMerge     = "merge"
)

// SignalKind classifies a non-fatal condition met while chunking.
type SignalKind string

const (
	// SignalOversized marks a segment left above the target size because no
	// safe split point existed.
	SignalOversized SignalKind = "oversized"
	// SignalRefineSkipped marks a segment passed through unrefined after the
	// refiner failed or timed out.
	SignalRefineSkipped SignalKind = "refine_skipped"
	// SignalSplitFallback marks a segment returned unsplit after the
	// sub-splitter failed.
	SignalSplitFallback SignalKind = "split_fallback"
)

// Signal is an advisory attached to a chunking result. In Result.Signals,
// Index is the position of the affected segment in Result.Segments; in a
// StageReport it is the position in that stage's output.
type Signal struct {
	Kind    SignalKind `json:"kind" yaml:"kind"`
	Stage   string     `json:"stage" yaml:"stage"`
	Index   int        `json:"index" yaml:"index"`
	Message string     `json:"message" yaml:"message"`
	Size    int        `json:"size,omitempty" yaml:"size,omitempty"`
}

// Result is the output of one Chunk call. Oversized signals for segments a
// later stage brought within the target are dropped.
type Result struct {
	Segments []segment.Segment `json:"segments" yaml:"segments"`
	Signals  []Signal          `json:"signals,omitempty" yaml:"signals,omitempty"`
}

// StageReport describes one stage run over one document.
type StageReport struct {
	Stage    string
	In       int // segments entering the stage
	Out      int // segments leaving the stage
	Duration time.Duration
	Skipped  bool // stage disabled
	Signals  []Signal
}

// Observer is told about every stage boundary, once per stage per document.
type Observer interface {
	StageDone(ctx context.Context, r StageReport)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, r StageReport)

// StageDone calls f.
func (f ObserverFunc) StageDone(ctx context.Context, r StageReport) { f(ctx, r) }

type nopObserver struct{}

func (nopObserver) StageDone(context.Context, StageReport) {}

// SlogObserver logs stage reports. Signals are logged at warn level.
type SlogObserver struct {
	log *slog.Logger
}

// NewSlogObserver returns an Observer writing to log.
func NewSlogObserver(log *slog.Logger) *SlogObserver {
	return &SlogObserver{log: log}
}

// StageDone implements Observer.
func (o *SlogObserver) StageDone(ctx context.Context, r StageReport) {
	if r.Skipped {
		o.log.DebugContext(ctx, "chunk stage skipped", "stage", r.Stage)
		return
	}
	o.log.DebugContext(ctx, "chunk stage done",
		"stage", r.Stage,
		"in", r.In,
		"out", r.Out,
		"elapsed", r.Duration,
	)
	for _, s := range r.Signals {
		o.log.WarnContext(ctx, "chunk signal",
			"stage", s.Stage,
			"kind", string(s.Kind),
			"index", s.Index,
			"size", s.Size,
			"msg", s.Message,
		)
	}
}
