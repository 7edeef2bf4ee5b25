package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealflow/internal/model"
	"github.com/sells-group/dealflow/internal/research"
	"github.com/sells-group/dealflow/internal/source"
	"github.com/sells-group/dealflow/internal/store"
	anthropicpkg "github.com/sells-group/dealflow/pkg/anthropic"
	"github.com/sells-group/dealflow/pkg/perplexity"
)

// appEnv holds the initialized store, queue, runner, and candidate source
// shared by the commands. Callers should defer env.Close().
type appEnv struct {
	Store  store.Store
	Queue  *research.Queue
	Runner *research.Runner
	Source source.Source
}

// Close releases resources held by the environment, draining any in-flight
// background research first.
func (e *appEnv) Close() {
	if e.Runner != nil {
		e.Runner.DrainTriggers()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "dealflow.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, API clients, procedure registry, queue, and
// runner.
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	procs := research.NewRegistry()
	if cfg.Anthropic.Key != "" {
		claude := anthropicpkg.NewClient(cfg.Anthropic.Key)
		proc := research.NewAnthropicProcedure(claude, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens)
		for _, kind := range model.Kinds {
			procs.Register(kind, proc)
		}
	}

	queue := research.NewQueue(st)
	runner := research.NewRunner(queue, st, procs,
		time.Duration(cfg.Research.JobTimeoutSecs)*time.Second)

	var src source.Source
	if cfg.Perplexity.Key != "" {
		px := perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
		src = source.NewPerplexitySource(px, cfg.Perplexity.MaxResults)
	}

	return &appEnv{Store: st, Queue: queue, Runner: runner, Source: src}, nil
}
