// Package embed wraps embedding functions with retries, caching and latency
// tracking. Functions share chromem-go's EmbeddingFunc signature so the same
// value feeds both semantic refinement and the vector store.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"
)

// ErrEmptyText is returned for blank input.
var ErrEmptyText = errors.New("text cannot be empty")

// Func embeds one text.
type Func = chromem.EmbeddingFunc

// NewOllama returns a Func backed by an Ollama server at baseURL (without
// the /api suffix). Failures other than cancellation are marked retryable.
func NewOllama(model, baseURL string) Func {
	fn := chromem.NewEmbeddingFuncOllama(model, strings.TrimRight(baseURL, "/")+"/api")
	return func(ctx context.Context, text string) ([]float32, error) {
		if strings.TrimSpace(text) == "" {
			return nil, ErrEmptyText
		}
		v, err := fn(ctx, text)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ollama embed: %w", ctx.Err())
		}
		return nil, &RetryableError{Err: fmt.Errorf("ollama embed: %w", err)}
	}
}
