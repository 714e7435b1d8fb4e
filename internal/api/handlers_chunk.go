package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/segment"
)

// chunkRequest is the body of POST /api/chunk. Config holds overrides in
// chunker.Config's JSON form; omitted keys keep the server defaults.
type chunkRequest struct {
	Text         string            `json:"text"`
	Metadata     map[string]string `json:"metadata"`
	Config       json.RawMessage   `json:"config"`
	WithMetadata bool              `json:"with_metadata"`
}

type segmentView struct {
	Index    int              `json:"index"`
	Content  string           `json:"content"`
	Metadata segment.Metadata `json:"metadata"`
	Length   int              `json:"length"`
	Tokens   int              `json:"tokens"`
	Markdown string           `json:"markdown,omitempty"`
}

func segmentViews(segs []segment.Segment, withMeta bool) []segmentView {
	out := make([]segmentView, len(segs))
	for i, sg := range segs {
		out[i] = segmentView{
			Index:    i,
			Content:  sg.Content,
			Metadata: sg.Metadata,
			Length:   sg.Len(),
			Tokens:   chunker.EstimateTokens(sg.Content),
		}
		if withMeta {
			out[i].Markdown = sg.Markdown(true)
		}
	}
	return out
}

func (s *Server) handleChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req chunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	ch, err := s.chunkerFor(req.Config)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := ch.Chunk(r.Context(), req.Text, segment.FromMap(req.Metadata))
	if err != nil {
		jsonError(w, err.Error(), http.StatusRequestTimeout)
		return
	}

	signals := res.Signals
	if signals == nil {
		signals = []chunker.Signal{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"segments": segmentViews(res.Segments, req.WithMetadata),
		"signals":  signals,
	})
}

// chunkerFor returns the shared chunker, or a new one when the request
// carries config overrides.
func (s *Server) chunkerFor(overrides json.RawMessage) (*chunker.Chunker, error) {
	base := s.orchestrator.Chunker()
	trimmed := bytes.TrimSpace(overrides)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return base, nil
	}

	cfg := base.Config()
	cfg.Headers = slices.Clone(cfg.Headers)
	cfg.Separators = slices.Clone(cfg.Separators)
	if err := json.Unmarshal(trimmed, &cfg); err != nil {
		return nil, errors.New("invalid config: " + err.Error())
	}

	opts := []chunker.Option{chunker.WithObserver(chunker.NewSlogObserver(s.log))}
	if s.refiner != nil {
		opts = append(opts, chunker.WithRefiner(s.refiner))
	}
	return chunker.New(cfg, opts...)
}
