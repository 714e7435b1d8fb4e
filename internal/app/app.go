// Package app assembles the chunker, embedding chain, refiner and vector
// store from a config.Config.
package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/docchunk/internal/chunker"
	"github.com/dgallion1/docchunk/internal/config"
	"github.com/dgallion1/docchunk/internal/embed"
	"github.com/dgallion1/docchunk/internal/pipeline"
	"github.com/dgallion1/docchunk/internal/refine"
	"github.com/dgallion1/docchunk/internal/store"
)

// statsWindow is how long embedding latencies are kept.
const statsWindow = time.Hour

// App holds the assembled components. Refiner, Store and Embed are nil when
// the configuration does not need them.
type App struct {
	Config  config.Config
	Chunker *chunker.Chunker
	Refiner chunker.Refiner
	Store   *store.Store
	Embed   embed.Func
	Stats   *embed.Stats
}

// Build wires the components. embedFn overrides the Ollama client; pass nil
// to use the configured server.
func Build(cfg config.Config, embedFn embed.Func, log *slog.Logger) (*App, error) {
	chunkCfg, err := cfg.Chunking()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Stats: embed.NewStats(statsWindow)}

	if chunkCfg.Refine || cfg.StoreEnabled {
		if embedFn == nil {
			embedFn = embed.NewOllama(cfg.EmbedModel, cfg.OllamaURL)
		}
		fn := embed.WithRetry(embedFn, embed.MaxRetries, time.Second, log)
		fn = a.Stats.Wrap(fn)
		if cfg.EmbedCacheSize > 0 {
			fn = embed.NewCache(cfg.EmbedCacheSize).Wrap(fn)
		}
		a.Embed = fn
	}

	opts := []chunker.Option{chunker.WithObserver(chunker.NewSlogObserver(log))}
	if chunkCfg.Refine {
		sem, err := refine.NewSemantic(a.Embed, cfg.RefineConfig(), log)
		if err != nil {
			return nil, err
		}
		a.Refiner = sem
		opts = append(opts, chunker.WithRefiner(sem))
	}

	if a.Chunker, err = chunker.New(chunkCfg, opts...); err != nil {
		return nil, err
	}

	if cfg.StoreEnabled {
		if a.Store, err = store.Open(cfg.StorePath, cfg.StoreCollection, a.Embed, log); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	return a, nil
}

// Indexer returns the store as a pipeline.Indexer, or nil when the store is
// disabled.
func (a *App) Indexer() pipeline.Indexer {
	if a.Store == nil {
		return nil
	}
	return a.Store
}
