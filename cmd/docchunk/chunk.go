package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/docchunk/internal/app"
	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/config"
	"github.com/dgallion1/docchunk/internal/loader"
	"github.com/dgallion1/docchunk/internal/segment"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk FILE",
	Short: "Split a document and print its segments",
	Long: `Split a document and print its segments.

FILE may be any supported format (md, txt, html, pdf, docx, csv) or "-" to
read Markdown from standard input. Settings come from the environment (and a
.env file), then CHUNK_PROFILE or --profile, then the flags given here.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runChunk(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], chunkOpts, cmd.Flags().Changed)
	},
}

// chunkFlags holds the flags for the chunk command.
type chunkFlags struct {
	profile    string
	strategy   string
	size       int
	overlap    int
	minChunk   int
	mergeMode  string
	strip      bool
	keepEmpty  bool
	normalize  bool
	noSubSplit bool
	refine     bool
	threshold  string
	amount     float64
	ollamaURL  string
	model      string
	format     string
	withMeta   bool
	stdinName  string
	verbose    bool
}

var chunkOpts chunkFlags

func init() {
	rootCmd.AddCommand(chunkCmd)

	f := chunkCmd.Flags()
	f.StringVarP(&chunkOpts.profile, "profile", "p", "", "YAML chunking profile")
	f.StringVarP(&chunkOpts.strategy, "strategy", "s", "header", "Initial split: header, none or plain")
	f.IntVarP(&chunkOpts.size, "size", "n", 1000, "Target segment size in code points")
	f.IntVar(&chunkOpts.overlap, "overlap", 200, "Overlap for length-based splitting")
	f.IntVar(&chunkOpts.minChunk, "min", 100, "Merge segments shorter than this; 0 disables merging")
	f.StringVar(&chunkOpts.mergeMode, "merge", "adjacent", "Merge mode: adjacent or same_section")
	f.BoolVar(&chunkOpts.strip, "strip-headers", false, "Drop header lines from segment content")
	f.BoolVar(&chunkOpts.keepEmpty, "keep-empty", false, "Keep header-only sections as empty segments")
	f.BoolVar(&chunkOpts.normalize, "normalize", false, "Re-split oversized prose with overlap")
	f.BoolVar(&chunkOpts.noSubSplit, "no-sub-split", false, "Skip size-bounded sub-splitting")
	f.BoolVar(&chunkOpts.refine, "refine", false, "Refine segments at semantic breakpoints (needs Ollama)")
	f.StringVar(&chunkOpts.threshold, "threshold", "percentile", "Breakpoint threshold: percentile, standard_deviation, interquartile or gradient")
	f.Float64Var(&chunkOpts.amount, "amount", 0, "Threshold amount; 0 uses the threshold's default")
	f.StringVar(&chunkOpts.ollamaURL, "ollama-url", "", "Ollama base URL")
	f.StringVar(&chunkOpts.model, "embed-model", "", "Ollama embedding model")
	f.StringVarP(&chunkOpts.format, "output", "o", "json", "Output format: json, yaml or markdown")
	f.BoolVar(&chunkOpts.withMeta, "with-metadata", false, "Prefix markdown output with YAML front matter")
	f.StringVar(&chunkOpts.stdinName, "name", "stdin.md", "File name used for standard input")
	f.BoolVarP(&chunkOpts.verbose, "verbose", "v", false, "Log stage timings to stderr")
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cfg *config.Config, f chunkFlags, changed func(string) bool) {
	cfg.StoreEnabled = false
	set := map[string]func(){
		"profile":       func() { cfg.ChunkProfile = f.profile },
		"strategy":      func() { cfg.Strategy = f.strategy },
		"size":          func() { cfg.ChunkSize = f.size },
		"overlap":       func() { cfg.ChunkOverlap = f.overlap },
		"min":           func() { cfg.MinChunk = f.minChunk },
		"merge":         func() { cfg.MergeMode = f.mergeMode },
		"strip-headers": func() { cfg.StripHeaders = f.strip },
		"keep-empty":    func() { cfg.KeepEmpty = f.keepEmpty },
		"normalize":     func() { cfg.Normalize = f.normalize },
		"no-sub-split":  func() { cfg.SubSplit = !f.noSubSplit },
		"refine":        func() { cfg.Refine = f.refine },
		"threshold":     func() { cfg.RefineThreshold = f.threshold },
		"amount":        func() { cfg.RefineAmount = f.amount },
		"ollama-url":    func() { cfg.OllamaURL = f.ollamaURL },
		"embed-model":   func() { cfg.EmbedModel = f.model },
	}
	for name, apply := range set {
		if changed(name) {
			apply()
		}
	}
}

// outputSegment is one segment as printed by the chunk command.
type outputSegment struct {
	Index    int              `json:"index" yaml:"index"`
	Content  string           `json:"content" yaml:"content"`
	Metadata segment.Metadata `json:"metadata" yaml:"metadata"`
	Length   int              `json:"length" yaml:"length"`
	Tokens   int              `json:"tokens" yaml:"tokens"`
}

type output struct {
	Source   string           `json:"source" yaml:"source"`
	Title    string           `json:"title" yaml:"title"`
	Segments []outputSegment  `json:"segments" yaml:"segments"`
	Signals  []chunker.Signal `json:"signals,omitempty" yaml:"signals,omitempty"`
}

func runChunk(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, path string, f chunkFlags, changed func(string) bool) error {
	_ = godotenv.Load()

	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(&cfg, f, changed)

	a, err := app.Build(cfg, nil, log)
	if err != nil {
		return err
	}

	doc, err := loadDocument(stdin, path, f.stdinName)
	if err != nil {
		return err
	}

	res, err := a.Chunker.Chunk(ctx, doc.Text, doc.Metadata())
	if err != nil {
		return err
	}
	return writeResult(stdout, doc, res, f.format, f.withMeta)
}

func loadDocument(stdin io.Reader, path, stdinName string) (*loader.Document, error) {
	if path == "-" {
		return loader.Load(stdin, stdinName)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return loader.Load(file, path)
}

func writeResult(w io.Writer, doc *loader.Document, res chunker.Result, format string, withMeta bool) error {
	switch strings.ToLower(format) {
	case "markdown", "md":
		for i, s := range res.Segments {
			if i > 0 {
				fmt.Fprint(w, "\n\n")
			}
			fmt.Fprint(w, s.Markdown(withMeta))
		}
		fmt.Fprintln(w)
		return nil
	case "json", "yaml", "yml":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	out := output{Source: doc.Source, Title: doc.Title, Signals: res.Signals}
	out.Segments = make([]outputSegment, len(res.Segments))
	for i, s := range res.Segments {
		out.Segments[i] = outputSegment{
			Index:    i,
			Content:  s.Content,
			Metadata: s.Metadata,
			Length:   s.Len(),
			Tokens:   chunker.EstimateTokens(s.Content),
		}
	}

	if strings.HasPrefix(strings.ToLower(format), "y") {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
