package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-ranker/internal/cost"
	"github.com/sells-group/lead-ranker/internal/pipeline"
	"github.com/sells-group/lead-ranker/internal/rankcache"
	"github.com/sells-group/lead-ranker/internal/scoring"
	"github.com/sells-group/lead-ranker/internal/shortlist"
	"github.com/sells-group/lead-ranker/internal/store"
	"github.com/sells-group/lead-ranker/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leadrank.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st.SetInsertBatchSize(cfg.Ranking.InsertBatchSize)
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		st.SetInsertBatchSize(cfg.Ranking.InsertBatchSize)
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// engine bundles the wired ranking stack for one command invocation.
type engine struct {
	store        store.Store
	orchestrator *pipeline.Orchestrator
}

func (e *engine) Close() {
	e.store.Close()
}

// initEngine builds the full ranking stack on top of an initialized store.
// Without an Anthropic key the engine still wires up; runs then fail at the
// first scoring call rather than at startup.
func initEngine(ctx context.Context) (*engine, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var client anthropic.Client
	if cfg.Anthropic.Key != "" {
		client = anthropic.NewClient(cfg.Anthropic.Key)
	}

	calc := cost.NewCalculator(pricingRates())
	scorer := scoring.New(client, scoring.Config{
		Model:               cfg.Anthropic.Model,
		ExpandModel:         cfg.Anthropic.ExpandModel,
		MaxTokens:           cfg.Anthropic.MaxTokens,
		Passes:              cfg.Ranking.RerankPasses,
		SinglePassThreshold: cfg.Ranking.SinglePassThreshold,
		RequestsPerSec:      cfg.Anthropic.RequestsPerSec,
	}, calc, st)

	cache := rankcache.New(st, time.Duration(cfg.Ranking.CacheTTLHours)*time.Hour)
	ranker := pipeline.NewRanker(scorer, cache, shortlist.Bounds{
		Min:        cfg.Ranking.ShortlistMin,
		Max:        cfg.Ranking.ShortlistMax,
		Multiplier: cfg.Ranking.ShortlistMultiplier,
	})
	sched := pipeline.NewScheduler(cfg.Ranking.Workers)

	return &engine{
		store:        st,
		orchestrator: pipeline.NewOrchestrator(st, ranker, sched, scorer),
	}, nil
}

// pricingRates converts configured pricing into calculator rates, falling
// back to the built-in table when the config carries none.
func pricingRates() cost.Rates {
	if len(cfg.Pricing.Anthropic) == 0 {
		return cost.DefaultRates()
	}
	rates := cost.Rates{Anthropic: make(map[string]cost.ModelRate, len(cfg.Pricing.Anthropic))}
	for model, p := range cfg.Pricing.Anthropic {
		rates.Anthropic[model] = cost.ModelRate{
			Input:         p.Input,
			Output:        p.Output,
			CacheWriteMul: p.CacheWriteMul,
			CacheReadMul:  p.CacheReadMul,
		}
	}
	return rates
}
