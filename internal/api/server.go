package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/config"
	"github.com/dgallion1/docchunk/internal/embed"
	"github.com/dgallion1/docchunk/internal/pipeline"
	"github.com/dgallion1/docchunk/internal/store"
)

// Server is the HTTP API server for docchunk.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	store        *store.Store
	refiner      chunker.Refiner
	stats        *embed.Stats
	log          *slog.Logger
	cfg          config.Config
}

// Option configures optional collaborators of a Server.
type Option func(*Server)

// WithStore enables search and document deletion.
func WithStore(st *store.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithRefiner lets /api/chunk requests turn on semantic refinement.
func WithRefiner(r chunker.Refiner) Option {
	return func(s *Server) { s.refiner = r }
}

// WithEmbedStats exposes embedding latency statistics.
func WithEmbedStats(st *embed.Stats) Option {
	return func(s *Server) { s.stats = st }
}

// NewServer creates and configures the HTTP server.
func NewServer(orch *pipeline.Orchestrator, log *slog.Logger, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		orchestrator: orch,
		log:          log,
		cfg:          cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/chunk", s.handleChunk)

		r.Post("/api/ingest", s.handleIngest)
		r.Post("/api/ingest/batch", s.handleBatchIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)
		r.Get("/api/ingest/{jobID}/segments", s.handleIngestSegments)

		r.Get("/api/search", s.handleSearch)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)

		r.Get("/api/stats/embed", s.handleEmbedStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
