package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/config"
	"github.com/dgallion1/docchunk/internal/embed"
	"github.com/dgallion1/docchunk/internal/pipeline"
	"github.com/dgallion1/docchunk/internal/store"
)

const testKey = "test-key"

func keywordEmbed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "install") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Config{
		APIKey:         testKey,
		WorkerCount:    1,
		MaxQueueSize:   10,
		JobTTL:         time.Hour,
		MaxUploadBytes: 1 << 20,
		EmbedModel:     "test-embed",
	}

	cc := chunker.DefaultConfig()
	cc.MinChunk = 0
	ch, err := chunker.New(cc)
	require.NoError(t, err)

	stats := embed.NewStats(time.Hour)
	st, err := store.Open("", "test", stats.Wrap(keywordEmbed), log)
	require.NoError(t, err)

	orch := pipeline.NewOrchestrator(cfg, ch, st, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	return NewServer(orch, log, cfg, WithStore(st), WithEmbedStats(stats))
}

func do(t *testing.T, s *Server, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/embed", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/stats/embed", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChunk_Default(t *testing.T) {
	s := newTestServer(t)

	body := `{"text":"# Intro\nhello\n## Setup\nworld","metadata":{"source":"x.md"},"with_metadata":true}`
	rec := do(t, s, http.MethodPost, "/api/chunk", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	segs := out["segments"].([]any)
	require.Len(t, segs, 2)

	second := segs[1].(map[string]any)
	assert.Equal(t, "## Setup\nworld", second["content"])
	assert.Equal(t, map[string]any{"source": "x.md", "h1": "Intro", "h2": "Setup"}, second["metadata"])
	assert.EqualValues(t, 14, second["length"])
	assert.NotZero(t, second["tokens"])
	assert.True(t, strings.HasPrefix(second["markdown"].(string), "---\n"))
	assert.Empty(t, out["signals"])
}

func TestChunk_ConfigOverrides(t *testing.T) {
	s := newTestServer(t)

	body := `{"text":"# A\nx\n# B\ny","config":{"strategy":"none"}}`
	rec := do(t, s, http.MethodPost, "/api/chunk", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["segments"], 1)

	// The shared chunker keeps its own configuration.
	assert.Equal(t, chunker.StrategyHeader, s.orchestrator.Chunker().Config().Strategy)
}

func TestChunk_InvalidConfig(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/chunk", strings.NewReader(`{"text":"x","config":{"chunk_size":0}}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Refinement needs a refiner, which this server does not have.
	rec = do(t, s, http.MethodPost, "/api/chunk", strings.NewReader(`{"text":"x","config":{"refine":true}}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/chunk", strings.NewReader(`not json`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func multipartBody(t *testing.T, field string, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func waitDone(t *testing.T, s *Server, jobID string) map[string]any {
	t.Helper()
	var snap map[string]any
	require.Eventually(t, func() bool {
		rec := do(t, s, http.MethodGet, "/api/ingest/"+jobID+"/status", nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		snap = decode(t, rec)
		return pipeline.JobStatus(snap["status"].(string)).Done()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestIngest_SearchAndDelete(t *testing.T) {
	s := newTestServer(t)

	doc := "# Guide\n\nWelcome.\n\n## Install\n\nRun the installer.\n"
	body, ct := multipartBody(t, "file", map[string]string{"guide.md": doc}, map[string]string{"doc_id": "guide"})
	rec := do(t, s, http.MethodPost, "/api/ingest", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	accepted := decode(t, rec)
	assert.Equal(t, "guide", accepted["doc_id"])
	jobID := accepted["job_id"].(string)

	snap := waitDone(t, s, jobID)
	require.Equal(t, "completed", snap["status"], snap)

	rec = do(t, s, http.MethodGet, "/api/ingest/"+jobID+"/segments", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["segments"], 2)

	rec = do(t, s, http.MethodGet, "/api/search?q=install&n=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	results := decode(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	hit := results[0].(map[string]any)
	assert.Equal(t, "guide-1", hit["id"])
	assert.Contains(t, hit["content"], "Run the installer.")

	rec = do(t, s, http.MethodDelete, "/api/documents/guide", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, s.store.Count())

	// Stats saw the indexing and query embeddings.
	rec = do(t, s, http.MethodGet, "/api/stats/embed", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, "test-embed", stats["model"])
}

func TestIngest_Rejects(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartBody(t, "file", map[string]string{"photo.png": "x"}, nil)
	rec := do(t, s, http.MethodPost, "/api/ingest", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, "other", map[string]string{"a.md": "x"}, nil)
	rec = do(t, s, http.MethodPost, "/api/ingest", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/ingest/nope/status", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBatchIngest(t *testing.T) {
	s := newTestServer(t)

	body, ct := multipartBody(t, "files", map[string]string{
		"a.txt":  "alpha text",
		"b.html": "<h1>Beta</h1><p>beta text</p>",
		"c.bin":  "nope",
	}, nil)
	rec := do(t, s, http.MethodPost, "/api/ingest/batch", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	jobs := decode(t, rec)["jobs"].([]any)
	require.Len(t, jobs, 3)

	var accepted, rejected int
	for _, j := range jobs {
		m := j.(map[string]any)
		if _, ok := m["error"]; ok {
			rejected++
			continue
		}
		accepted++
		snap := waitDone(t, s, m["job_id"].(string))
		assert.Equal(t, "completed", snap["status"], snap)
	}
	assert.Equal(t, 2, accepted)
	assert.Equal(t, 1, rejected)
}

func TestSearch_Validation(t *testing.T) {
	s := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/search", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/search?q=x&n=-1", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/search?q=x", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "passwd", sanitizeFilename("../../etc/passwd"))
	assert.Equal(t, "doc.md", sanitizeFilename(`C:\docs\doc.md`))
	assert.Equal(t, "unnamed", sanitizeFilename(""))
}
