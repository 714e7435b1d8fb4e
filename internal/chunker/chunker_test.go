package chunker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docchunk/internal/segment"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = 100
	cfg.ChunkOverlap = 20
	cfg.MinChunk = 0
	return cfg
}

func mustChunker(t *testing.T, cfg Config, opts ...Option) *Chunker {
	t.Helper()
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestChunk_HeaderSections(t *testing.T) {
	res, err := mustChunker(t, testConfig()).Chunk(context.Background(), "# A\np1\n## B\np2", segment.Metadata{})
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "# A\np1", res.Segments[0].Content)
	assert.Equal(t, "## B\np2", res.Segments[1].Content)
	assert.Equal(t, map[string]string{"h1": "A", "h2": "B"}, res.Segments[1].Metadata.Map())
}

func TestChunk_LongParagraphIsBounded(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("Lorem ipsum dolor sit amet. ", 9))
	res, err := mustChunker(t, testConfig()).Chunk(context.Background(), "# Title\n"+para, segment.Metadata{})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(res.Segments), 2)
	require.LessOrEqual(t, len(res.Segments), 3)
	for _, s := range res.Segments {
		assert.LessOrEqual(t, s.Len(), 120)
		assert.Equal(t, "Title", mustGet(t, s.Metadata, "h1"))
	}
}

func TestChunk_MergesSmallSections(t *testing.T) {
	cfg := testConfig()
	cfg.MinChunk = 30

	res, err := mustChunker(t, cfg).Chunk(context.Background(), "# T1\nab\n## T2\ncd", segment.Metadata{})
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "# T1\nab\n\n## T2\ncd", res.Segments[0].Content)
	assert.Equal(t, map[string]string{"h1": "T1", "h2": "T2"}, res.Segments[0].Metadata.Map())
}

func TestChunk_FenceExcludedFromSize(t *testing.T) {
	code := strings.Repeat("fmt.Println(\"hello, world\")\n", 20)
	doc := "# Code\nSome intro.\n```go\n" + code + "```\nDone."

	cfg := testConfig()
	cfg.ChunkSize = 50
	cfg.ChunkOverlap = 10
	cfg.Normalize = true

	res, err := mustChunker(t, cfg).Chunk(context.Background(), doc, segment.Metadata{})
	require.NoError(t, err)
	assert.Empty(t, res.Signals)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, doc, res.Segments[0].Content)
}

func TestChunk_EmptyInput(t *testing.T) {
	res, err := mustChunker(t, DefaultConfig()).Chunk(context.Background(), "", segment.Metadata{})
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, "", res.Segments[0].Content)
	assert.Equal(t, 0, res.Segments[0].Metadata.Len())

	cfg := DefaultConfig()
	cfg.StripHeaders = true
	res, err = mustChunker(t, cfg).Chunk(context.Background(), "", segment.Metadata{})
	require.NoError(t, err)
	assert.Empty(t, res.Segments)
}

func TestChunk_BaseMetadataPropagates(t *testing.T) {
	cfg := testConfig()
	cfg.MinChunk = 50
	base := segment.Metadata{}.With("source", "guide.md")

	res, err := mustChunker(t, cfg).Chunk(context.Background(), "# A\nx\n# B\ny\n# C\n"+strings.Repeat("long line ", 20), base)
	require.NoError(t, err)
	for _, s := range res.Segments {
		assert.Equal(t, "guide.md", mustGet(t, s.Metadata, "source"))
	}
}

func TestChunk_PlainStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = StrategyPlain
	base := segment.Metadata{}.With("source", "notes.txt")

	text := strings.Repeat("# Not a header here. Just words in a row. ", 10)
	res, err := mustChunker(t, cfg).Chunk(context.Background(), text, base)
	require.NoError(t, err)
	require.Greater(t, len(res.Segments), 1)
	for _, s := range res.Segments {
		assert.Equal(t, []string{"source"}, s.Metadata.Keys())
		assert.LessOrEqual(t, s.Len(), 100)
	}
}

func TestChunk_NoneStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy = StrategyNone
	cfg.SubSplit = false

	text := "# A\nx\n## B\n" + strings.Repeat("y", 300)
	res, err := mustChunker(t, cfg).Chunk(context.Background(), text, segment.Metadata{})
	require.NoError(t, err)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, text, res.Segments[0].Content)
	assert.Equal(t, 0, res.Segments[0].Metadata.Len())
}

func TestChunk_NormalizeBoundsProse(t *testing.T) {
	cfg := testConfig()
	cfg.ChunkSize = 50
	cfg.ChunkOverlap = 10
	cfg.SubSplit = false
	cfg.Normalize = true

	res, err := mustChunker(t, cfg).Chunk(context.Background(), "# H\n"+strings.Repeat("word ", 30), segment.Metadata{})
	require.NoError(t, err)
	require.Greater(t, len(res.Segments), 1)
	for _, s := range res.Segments {
		assert.LessOrEqual(t, s.Len(), 50)
		assert.Equal(t, "H", mustGet(t, s.Metadata, "h1"))
	}
}

func TestChunk_OversizedSignal(t *testing.T) {
	res, err := mustChunker(t, testConfig()).Chunk(context.Background(), "# Big\n"+strings.Repeat("z", 300), segment.Metadata{})
	require.NoError(t, err)
	require.NotEmpty(t, res.Signals)
	sig := res.Signals[len(res.Signals)-1]
	assert.Equal(t, SignalOversized, sig.Kind)
	assert.Equal(t, StageSubSplit, sig.Stage)
	assert.Equal(t, 300, sig.Size)
}

func splitOnPipe(_ context.Context, text string) ([]string, error) {
	return strings.Split(text, "|"), nil
}

func TestChunk_RefineSplitsSegments(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true

	c := mustChunker(t, cfg, WithRefiner(RefinerFunc(splitOnPipe)))
	res, err := c.Chunk(context.Background(), "# A\nfirst|second\n# B\nthird", segment.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, []string{"# A\nfirst", "second", "# B\nthird"}, segment.Contents(res.Segments))
	assert.Equal(t, "A", mustGet(t, res.Segments[1].Metadata, "h1"))
	assert.Empty(t, res.Signals)
}

func TestChunk_RefineFailurePassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true

	refiner := RefinerFunc(func(ctx context.Context, text string) ([]string, error) {
		if strings.Contains(text, "bad") {
			return nil, errors.New("embedding service down")
		}
		return []string{text}, nil
	})
	res, err := mustChunker(t, cfg, WithRefiner(refiner)).Chunk(context.Background(), "# A\ngood\n# B\nbad", segment.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, []string{"# A\ngood", "# B\nbad"}, segment.Contents(res.Segments))

	require.Len(t, res.Signals, 1)
	assert.Equal(t, SignalRefineSkipped, res.Signals[0].Kind)
	assert.Equal(t, StageRefine, res.Signals[0].Stage)
	assert.Equal(t, 1, res.Signals[0].Index)
	assert.Contains(t, res.Signals[0].Message, "embedding service down")
}

func TestChunk_RefinePanicPassesThrough(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true

	refiner := RefinerFunc(func(context.Context, string) ([]string, error) {
		panic("refiner blew up")
	})
	res, err := mustChunker(t, cfg, WithRefiner(refiner)).Chunk(context.Background(), "# A\nhello world", segment.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, []string{"# A\nhello world"}, segment.Contents(res.Segments))

	require.Len(t, res.Signals, 1)
	assert.Equal(t, SignalRefineSkipped, res.Signals[0].Kind)
	assert.Contains(t, res.Signals[0].Message, "refiner blew up")
}

func TestChunk_RefineAbandonsRefinerIgnoringContext(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true
	cfg.RefineTimeout = 50 * time.Millisecond

	stuck := RefinerFunc(func(_ context.Context, text string) ([]string, error) {
		time.Sleep(time.Second)
		return []string{text}, nil
	})

	start := time.Now()
	res, err := mustChunker(t, cfg, WithRefiner(stuck)).Chunk(context.Background(), "# A\nx\n# B\ny", segment.Metadata{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"# A\nx", "# B\ny"}, segment.Contents(res.Segments))

	require.Len(t, res.Signals, 2)
	for _, sig := range res.Signals {
		assert.Equal(t, SignalRefineSkipped, sig.Kind)
		assert.Contains(t, sig.Message, context.DeadlineExceeded.Error())
	}
}

func TestChunk_SignalIndexFollowsMerge(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true
	cfg.MinChunk = 30

	refiner := RefinerFunc(func(_ context.Context, text string) ([]string, error) {
		if strings.Contains(text, "bad") || strings.Contains(text, "# C") {
			return nil, errors.New("embedding service down")
		}
		return []string{text}, nil
	})
	doc := "# A\ngood\n# B\nbad\n# C\n" + strings.Repeat("c", 90)
	res, err := mustChunker(t, cfg, WithRefiner(refiner)).Chunk(context.Background(), doc, segment.Metadata{})
	require.NoError(t, err)

	require.Len(t, res.Segments, 2)
	assert.Equal(t, "# A\ngood\n\n# B\nbad", res.Segments[0].Content)

	require.Len(t, res.Signals, 2)
	assert.Equal(t, 0, res.Signals[0].Index)
	assert.Contains(t, res.Segments[res.Signals[0].Index].Content, "bad")
	assert.Equal(t, 1, res.Signals[1].Index)
	assert.Contains(t, res.Segments[res.Signals[1].Index].Content, "# C")
}

func TestChunk_NormalizeClearsOversizedSignal(t *testing.T) {
	cfg := testConfig()
	cfg.Normalize = true

	var subSplit []Signal
	obs := ObserverFunc(func(_ context.Context, r StageReport) {
		if r.Stage == StageSubSplit {
			subSplit = r.Signals
		}
	})
	res, err := mustChunker(t, cfg, WithObserver(obs)).Chunk(context.Background(), "# Big\n"+strings.Repeat("z", 300), segment.Metadata{})
	require.NoError(t, err)

	require.NotEmpty(t, subSplit)
	assert.Equal(t, SignalOversized, subSplit[len(subSplit)-1].Kind)
	assert.Empty(t, res.Signals)
	for _, s := range res.Segments {
		assert.LessOrEqual(t, EffectiveLength(s.Content), cfg.ChunkSize)
	}
}

func TestChunk_RefineTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true
	cfg.RefineTimeout = 20 * time.Millisecond

	blocking := RefinerFunc(func(ctx context.Context, _ string) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	start := time.Now()
	res, err := mustChunker(t, cfg, WithRefiner(blocking)).Chunk(context.Background(), "# A\nx\n# B\ny", segment.Metadata{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{"# A\nx", "# B\ny"}, segment.Contents(res.Segments))
	assert.Len(t, res.Signals, 2)
}

func TestChunk_RefineKeepsOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true
	cfg.RefineConcurrency = 8

	// Earlier sections finish last.
	slowFirst := RefinerFunc(func(ctx context.Context, text string) ([]string, error) {
		delay := time.Duration(10-len(text)%10) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []string{text}, nil
	})

	var b strings.Builder
	var want []string
	for i := 0; i < 10; i++ {
		sec := "# S" + strings.Repeat("x", i) + "\nbody"
		b.WriteString(sec + "\n")
		want = append(want, sec)
	}
	res, err := mustChunker(t, cfg, WithRefiner(slowFirst)).Chunk(context.Background(), b.String(), segment.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, want, segment.Contents(res.Segments))
}

func TestChunk_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mustChunker(t, testConfig()).Chunk(ctx, "# A\nx", segment.Metadata{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChunk_ObserverSeesEveryStage(t *testing.T) {
	var reports []StageReport
	obs := ObserverFunc(func(_ context.Context, r StageReport) {
		reports = append(reports, r)
	})
	cfg := testConfig()
	cfg.MinChunk = 10

	_, err := mustChunker(t, cfg, WithObserver(obs)).Chunk(context.Background(), "# A\nx\n# B\ny", segment.Metadata{})
	require.NoError(t, err)

	var stages []string
	for _, r := range reports {
		stages = append(stages, r.Stage)
	}
	assert.Equal(t, []string{StageSplit, StageRefine, StageSubSplit, StageNormalize, StageMerge}, stages)
	assert.True(t, reports[1].Skipped)
	assert.True(t, reports[3].Skipped)
	assert.Equal(t, 2, reports[4].In)
	assert.Equal(t, 1, reports[4].Out)
}

func TestSlogObserver_LogsSignals(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	c := mustChunker(t, testConfig(), WithObserver(NewSlogObserver(log)))
	_, err := c.Chunk(context.Background(), strings.Repeat("q", 250), segment.Metadata{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"chunk stage done"`)
	assert.Contains(t, out, `"msg":"chunk signal"`)
	assert.Contains(t, out, `"kind":"oversized"`)
}

func TestChunk_ConcurrentUse(t *testing.T) {
	c := mustChunker(t, testConfig())
	doc := "# A\n" + strings.Repeat("Some sentence here. ", 40) + "\n## B\nshort"

	want, err := c.Chunk(context.Background(), doc, segment.Metadata{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = c.Chunk(context.Background(), doc, segment.Metadata{})
		}()
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, segment.Contents(want.Segments), segment.Contents(r.Segments))
	}
}

func TestChunk_PreservesLineOrder(t *testing.T) {
	doc := strings.Join([]string{
		"# Manual",
		"Welcome to the manual.",
		"",
		"## Setup",
		strings.Repeat("Install the package and configure it. ", 8),
		"",
		"```",
		"make install",
		"```",
		"## Use",
		"Run the binary.",
	}, "\n")

	cfg := testConfig()
	cfg.MinChunk = 40
	res, err := mustChunker(t, cfg).Chunk(context.Background(), doc, segment.Metadata{})
	require.NoError(t, err)

	var got []string
	for _, s := range res.Segments {
		got = append(got, strings.Fields(s.Content)...)
	}
	assert.Equal(t, strings.Fields(doc), got)
}

func TestNew_RefineWithoutRefiner(t *testing.T) {
	cfg := testConfig()
	cfg.Refine = true
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero size", func(c *Config) { c.ChunkSize = 0 }},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }},
		{"overlap too large", func(c *Config) { c.ChunkOverlap = c.ChunkSize }},
		{"negative min", func(c *Config) { c.MinChunk = -1 }},
		{"no headers", func(c *Config) { c.Headers = nil }},
		{"empty prefix", func(c *Config) { c.Headers = []HeaderPair{{Prefix: "", Name: "h1"}} }},
		{"empty name", func(c *Config) { c.Headers = []HeaderPair{{Prefix: "#"}} }},
		{"duplicate name", func(c *Config) {
			c.Headers = []HeaderPair{{Prefix: "#", Name: "h"}, {Prefix: "##", Name: "h"}}
		}},
		{"bad separator", func(c *Config) { c.Separators = []string{"[a-"} }},
		{"unknown strategy", func(c *Config) { c.Strategy = Strategy(9) }},
		{"unknown merge mode", func(c *Config) { c.MergeMode = MergeMode(9) }},
		{"refine without timeout", func(c *Config) { c.Refine = true; c.RefineTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	assert.NoError(t, DefaultConfig().Validate())

	plain := DefaultConfig()
	plain.Strategy = StrategyPlain
	plain.Headers = nil
	assert.NoError(t, plain.Validate())
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Plain")
	require.NoError(t, err)
	assert.Equal(t, StrategyPlain, s)

	var m MergeMode
	require.NoError(t, m.UnmarshalText([]byte("same_section")))
	assert.Equal(t, MergeSameSection, m)

	_, err = ParseStrategy("semantic")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
