// Package app wires configuration into a ready orchestrator with its
// provider, tools and event sinks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/agent"
	"github.com/mohammad-safakhou/proposer/internal/events"
	"github.com/mohammad-safakhou/proposer/internal/orchestrator"
	"github.com/mohammad-safakhou/proposer/provider"
	openai_provider "github.com/mohammad-safakhou/proposer/provider/openai"
	"github.com/mohammad-safakhou/proposer/tools/web_fetch"
	"github.com/mohammad-safakhou/proposer/tools/web_search"
	searchmodels "github.com/mohammad-safakhou/proposer/tools/web_search/models"
)

// Options overrides collaborators that would otherwise be built from config.
type Options struct {
	Client   provider.Client
	Searcher searchmodels.Searcher
	Fetcher  web_fetch.WebFetcher
	// Redis replaces the client built from config.Redis.
	Redis  redis.UniversalClient
	Logger *log.Logger
	// StepLogger receives one line per step event; nil disables step logging.
	StepLogger *log.Logger
	Verbose    bool
}

// App holds the long-lived pieces shared by the CLI and the HTTP server.
type App struct {
	Config       *config.Config
	Orchestrator *orchestrator.Orchestrator
	// Stream is set when Redis mirroring is enabled.
	Stream *events.StreamEmitter

	redis     redis.UniversalClient
	ownsRedis bool
}

// Build validates cfg and assembles the orchestrator.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}

	client := opts.Client
	if client == nil {
		if cfg.LLM.APIKey == "" {
			return nil, errors.New("llm.api_key is not configured (PROPOSER_LLM_API_KEY)")
		}
		client = openai_provider.NewOpenAIClient(openai_provider.Options{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
			Logger:      logger,
		})
	}
	searcher := opts.Searcher
	if searcher == nil {
		s, err := web_search.NewWebSearcher(cfg.Search)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		searcher = s
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		f, err := web_fetch.NewWebFetcher(cfg.Fetch)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		fetcher = f
	}

	team, err := agent.NewLLMTeam(cfg, client, searcher, fetcher)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	var sinks []events.Emitter
	if opts.StepLogger != nil {
		sinks = append(sinks, events.NewLogEmitter(opts.StepLogger, opts.Verbose))
	}
	if cfg.Redis.Enabled {
		rdb := opts.Redis
		if rdb == nil {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			a.ownsRedis = true
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			if a.ownsRedis {
				_ = rdb.Close()
			}
			return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Redis.Address, err)
		}
		a.redis = rdb
		a.Stream = events.NewStreamEmitter(rdb, cfg.Redis.StreamPrefix,
			events.WithMaxLenApprox(cfg.Redis.MaxLen),
			events.WithTimeout(cfg.Redis.Timeout))
		sinks = append(sinks, a.Stream)
	}

	orch, err := orchestrator.New(team, cfg.Orchestration,
		orchestrator.WithEmitter(events.Multi(sinks...)),
		orchestrator.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Orchestrator = orch
	return a, nil
}

// Close releases the Redis client when Build created it.
func (a *App) Close() error {
	if a == nil || a.redis == nil || !a.ownsRedis {
		return nil
	}
	return a.redis.Close()
}
