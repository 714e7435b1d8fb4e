package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every configuration error.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Strategy selects how a document is first divided.
type Strategy int

const (
	// StrategyHeader splits on Markdown headers and tracks the header path.
	StrategyHeader Strategy = iota
	// StrategyNone keeps the whole document as one segment.
	StrategyNone
	// StrategyPlain splits by length with overlap and ignores hierarchy.
	StrategyPlain
)

func (s Strategy) String() string {
	switch s {
	case StrategyHeader:
		return "header"
	case StrategyNone:
		return "none"
	case StrategyPlain:
		return "plain"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

// ParseStrategy maps a name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "header", "headers", "markdown", "md":
		return StrategyHeader, nil
	case "none":
		return StrategyNone, nil
	case "plain", "text", "txt", "simple":
		return StrategyPlain, nil
	}
	return 0, fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Strategy) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Strategy) UnmarshalText(b []byte) error {
	v, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MergeMode selects whether the merge pass respects section boundaries.
type MergeMode int

const (
	// MergeAdjacent fuses any adjacent undersized segments.
	MergeAdjacent MergeMode = iota
	// MergeSameSection only fuses segments with identical metadata.
	MergeSameSection
)

func (m MergeMode) String() string {
	switch m {
	case MergeAdjacent:
		return "adjacent"
	case MergeSameSection:
		return "same_section"
	}
	return fmt.Sprintf("merge(%d)", int(m))
}

// ParseMergeMode maps a name to a MergeMode.
func ParseMergeMode(name string) (MergeMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "adjacent", "any":
		return MergeAdjacent, nil
	case "same_section", "same-section", "section", "strict":
		return MergeSameSection, nil
	}
	return 0, fmt.Errorf("%w: unknown merge mode %q", ErrInvalidConfig, name)
}

// MarshalText implements encoding.TextMarshaler.
func (m MergeMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MergeMode) UnmarshalText(b []byte) error {
	v, err := ParseMergeMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// HeaderPair maps a line prefix to the metadata key its text is stored under.
// Level orders headers in the stack; zero derives it from the prefix.
type HeaderPair struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	Name   string `json:"name" yaml:"name"`
	Level  int    `json:"level,omitempty" yaml:"level,omitempty"`
}

// DefaultHeaders is the six standard Markdown header levels.
func DefaultHeaders() []HeaderPair {
	return []HeaderPair{
		{Prefix: "#", Name: "h1"},
		{Prefix: "##", Name: "h2"},
		{Prefix: "###", Name: "h3"},
		{Prefix: "####", Name: "h4"},
		{Prefix: "#####", Name: "h5"},
		{Prefix: "######", Name: "h6"},
	}
}

// DefaultSeparators are the boundaries tried, in order, when a single line is
// longer than the target size.
func DefaultSeparators() []string {
	return []string{
		`[。！？]`,
		`[.!?]\s`,
		`；|;\s`,
		`，|,\s`,
		`\s`,
	}
}

// Config controls the chunking pipeline. Sizes are in code points.
type Config struct {
	Strategy     Strategy     `json:"strategy" yaml:"strategy"`
	Headers      []HeaderPair `json:"headers" yaml:"headers"`
	StripHeaders bool         `json:"strip_headers" yaml:"strip_headers"`
	KeepEmpty    bool         `json:"keep_empty" yaml:"keep_empty"`

	ChunkSize    int      `json:"chunk_size" yaml:"chunk_size"`       // Target size, fenced code excluded.
	ChunkOverlap int      `json:"chunk_overlap" yaml:"chunk_overlap"` // Only used by length-based splitting.
	Separators   []string `json:"separators" yaml:"separators"`       // Regexes, highest priority first.

	SubSplit  bool      `json:"sub_split" yaml:"sub_split"`
	Normalize bool      `json:"normalize" yaml:"normalize"`
	MinChunk  int       `json:"min_chunk" yaml:"min_chunk"` // Zero disables merging.
	MergeMode MergeMode `json:"merge_mode" yaml:"merge_mode"`

	Refine            bool          `json:"refine" yaml:"refine"`
	RefineTimeout     time.Duration `json:"refine_timeout" yaml:"refine_timeout"`
	RefineConcurrency int           `json:"refine_concurrency" yaml:"refine_concurrency"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyHeader,
		Headers:           DefaultHeaders(),
		ChunkSize:         1000,
		ChunkOverlap:      200,
		Separators:        DefaultSeparators(),
		SubSplit:          true,
		MinChunk:          100,
		MergeMode:         MergeAdjacent,
		RefineTimeout:     30 * time.Second,
		RefineConcurrency: 4,
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return fmt.Errorf("%w: chunk_overlap must not be negative, got %d", ErrInvalidConfig, c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap (%d) must be smaller than chunk_size (%d)", ErrInvalidConfig, c.ChunkOverlap, c.ChunkSize)
	}
	if c.MinChunk < 0 {
		return fmt.Errorf("%w: min_chunk must not be negative, got %d", ErrInvalidConfig, c.MinChunk)
	}
	switch c.Strategy {
	case StrategyHeader, StrategyNone, StrategyPlain:
	default:
		return fmt.Errorf("%w: unknown strategy %d", ErrInvalidConfig, int(c.Strategy))
	}
	switch c.MergeMode {
	case MergeAdjacent, MergeSameSection:
	default:
		return fmt.Errorf("%w: unknown merge mode %d", ErrInvalidConfig, int(c.MergeMode))
	}
	if c.Strategy == StrategyHeader && len(c.Headers) == 0 {
		return fmt.Errorf("%w: header strategy needs at least one header pair", ErrInvalidConfig)
	}
	names := make(map[string]bool, len(c.Headers))
	for i, h := range c.Headers {
		if h.Prefix == "" || strings.TrimSpace(h.Prefix) != h.Prefix {
			return fmt.Errorf("%w: header %d has an empty or padded prefix %q", ErrInvalidConfig, i, h.Prefix)
		}
		if h.Name == "" {
			return fmt.Errorf("%w: header %d (%q) has no name", ErrInvalidConfig, i, h.Prefix)
		}
		if names[h.Name] {
			return fmt.Errorf("%w: duplicate header name %q", ErrInvalidConfig, h.Name)
		}
		if h.Level < 0 {
			return fmt.Errorf("%w: header %q has negative level", ErrInvalidConfig, h.Name)
		}
		names[h.Name] = true
	}
	if _, err := compileSeparators(c.Separators); err != nil {
		return err
	}
	if c.Refine {
		if c.RefineTimeout <= 0 {
			return fmt.Errorf("%w: refine_timeout must be positive", ErrInvalidConfig)
		}
		if c.RefineConcurrency <= 0 {
			return fmt.Errorf("%w: refine_concurrency must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

func compileSeparators(seps []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(seps))
	for _, s := range seps {
		if s == "" {
			return nil, fmt.Errorf("%w: empty separator", ErrInvalidConfig)
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("%w: separator %q: %v", ErrInvalidConfig, s, err)
		}
		out = append(out, re)
	}
	return out, nil
}
