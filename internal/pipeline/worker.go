package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/loader"
	"github.com/dgallion1/docchunk/internal/segment"
)

// Indexer receives the segments of finished documents. *store.Store
// implements it.
type Indexer interface {
	Index(ctx context.Context, docID string, segs []segment.Segment) (int, error)
	Delete(ctx context.Context, docID string) error
}

// Worker processes a single document job.
type Worker struct {
	chunker *chunker.Chunker
	index   Indexer
	log     *slog.Logger

	pdfFallback bool
}

// NewWorker returns a worker. A nil index skips the indexing phase.
func NewWorker(ch *chunker.Chunker, index Indexer, log *slog.Logger, pdfFallback bool) *Worker {
	return &Worker{
		chunker:     ch,
		index:       index,
		log:         log,
		pdfFallback: pdfFallback,
	}
}

// Process runs the full ingest pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "filename", job.Filename)

	// Phase 1: Load
	job.SetStatus(StatusLoading, "loading")
	l, err := loader.ForFile(job.Filename)
	if err != nil {
		log.Error("unsupported format", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "loading")
		return
	}
	if p, ok := l.(*loader.PDFLoader); ok {
		p.FallbackPdftotext = w.pdfFallback
	}

	doc, err := l.Load(bytes.NewReader(job.FileData()), job.Filename)
	if err != nil {
		log.Error("load failed", "error", err)
		job.AddError(fmt.Sprintf("load: %s", err))
		job.SetStatus(StatusFailed, "loading")
		return
	}
	if job.Title != "" {
		doc.Title = job.Title
	}
	job.SetFileData(nil)

	job.SetContentHash(ContentHashHex([]byte(doc.Text)))

	// Phase 2: Chunk
	job.SetStatus(StatusChunking, "chunking")
	res, err := w.chunker.Chunk(ctx, doc.Text, doc.Metadata().With("doc_id", job.DocID))
	if err != nil {
		w.fail(log, job, "chunking", fmt.Errorf("chunk: %w", err))
		return
	}
	job.SetResult(res)
	log.Info("chunked document", "segments", len(res.Segments), "signals", len(res.Signals))

	if !hasContent(res.Segments) {
		w.fail(log, job, "chunking", fmt.Errorf("no extractable content"))
		return
	}

	// Phase 3: Index
	if w.index == nil {
		job.SetStatus(StatusCompleted, "done")
		return
	}
	job.SetStatus(StatusIndexing, "indexing")
	var indexed int
	err = retry(ctx, log, "index", func() error {
		var err error
		indexed, err = w.index.Index(ctx, job.DocID, res.Segments)
		return err
	})
	if err != nil {
		w.fail(log, job, "indexing", fmt.Errorf("index: %w", err))
		return
	}
	job.SetIndexed(indexed)
	log.Info("indexing complete", "indexed", indexed)
	job.SetStatus(StatusCompleted, "done")
}

func (w *Worker) fail(log *slog.Logger, job *Job, phase string, err error) {
	log.Error(phase+" failed", "error", err)
	job.AddError(err.Error())
	job.SetStatus(StatusFailed, phase)
}

func hasContent(segs []segment.Segment) bool {
	for _, s := range segs {
		if !s.Empty() {
			return true
		}
	}
	return false
}
