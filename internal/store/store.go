// Package store indexes chunked segments in a chromem-go collection so they
// can be searched by meaning.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/embed"
	"github.com/dgallion1/docchunk/internal/segment"
)

// Metadata keys added to every indexed segment.
const (
	KeyDocID  = "doc_id"
	KeyIndex  = "chunk_index"
	KeyTokens = "tokens"
)

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Store is a vector index over segments. It is safe for concurrent use.
type Store struct {
	db          *chromem.DB
	coll        *chromem.Collection
	concurrency int
	log         *slog.Logger
}

// Open creates a store. An empty path keeps the index in memory; otherwise
// it is persisted under path.
func Open(path, collection string, fn embed.Func, log *slog.Logger) (*Store, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}
	return New(db, collection, fn, log)
}

// New wraps an existing database.
func New(db *chromem.DB, collection string, fn embed.Func, log *slog.Logger) (*Store, error) {
	if fn == nil {
		return nil, errors.New("embedding function required")
	}
	coll, err := db.GetOrCreateCollection(collection, nil, fn)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", collection, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, coll: coll, concurrency: runtime.NumCPU(), log: log}, nil
}

// Index replaces the segments stored for docID. Blank segments are skipped
// but keep their position in the numbering. It returns the number indexed.
func (s *Store) Index(ctx context.Context, docID string, segs []segment.Segment) (int, error) {
	if err := s.Delete(ctx, docID); err != nil {
		return 0, err
	}

	docs := make([]chromem.Document, 0, len(segs))
	for i, seg := range segs {
		if seg.Empty() {
			continue
		}
		meta := seg.Metadata.Map()
		meta[KeyDocID] = docID
		meta[KeyIndex] = strconv.Itoa(i)
		meta[KeyTokens] = strconv.Itoa(chunker.EstimateTokens(seg.Content))
		docs = append(docs, chromem.Document{
			ID:       SegmentID(docID, i),
			Metadata: meta,
			Content:  seg.Content,
		})
	}
	if len(docs) == 0 {
		return 0, nil
	}

	if err := s.coll.AddDocuments(ctx, docs, s.concurrency); err != nil {
		return 0, fmt.Errorf("index %s: %w", docID, err)
	}
	s.log.Debug("indexed segments", "doc_id", docID, "count", len(docs))
	return len(docs), nil
}

// SegmentID is the stored ID of segment i of a document.
func SegmentID(docID string, i int) string {
	return docID + "-" + strconv.Itoa(i)
}

// Hit is one search result.
type Hit struct {
	ID         string            `json:"id"`
	DocID      string            `json:"doc_id"`
	Index      int               `json:"chunk_index"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata"`
	Similarity float32           `json:"similarity"`
}

// Search returns up to n segments closest to query, most similar first. A
// non-empty docID restricts the search to that document.
func (s *Store) Search(ctx context.Context, query string, n int, docID string) ([]Hit, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	var where map[string]string
	if docID != "" {
		where = map[string]string{KeyDocID: docID}
	}
	n = min(n, s.coll.Count())
	if n <= 0 {
		return []Hit{}, nil
	}

	results, err := s.coll.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		idx, _ := strconv.Atoi(r.Metadata[KeyIndex])
		hits = append(hits, Hit{
			ID:         r.ID,
			DocID:      r.Metadata[KeyDocID],
			Index:      idx,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// Delete removes every segment of docID.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if docID == "" {
		return errors.New("doc id required")
	}
	if s.coll.Count() == 0 {
		return nil
	}
	if err := s.coll.Delete(ctx, map[string]string{KeyDocID: docID}, nil); err != nil {
		return fmt.Errorf("delete %s: %w", docID, err)
	}
	return nil
}

// Count is the number of stored segments.
func (s *Store) Count() int {
	return s.coll.Count()
}
