package agent

import (
	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/provider"
	"github.com/mohammad-safakhou/proposer/tools/web_fetch"
	searchmodels "github.com/mohammad-safakhou/proposer/tools/web_search/models"
)

// NewLLMTeam wires the four model-backed agents from configuration.
func NewLLMTeam(cfg *config.Config, client provider.Client, search searchmodels.Searcher, fetcher web_fetch.WebFetcher) (*Team, error) {
	role := func(r Role) ModelOptions {
		opts := ModelOptions{Model: cfg.LLM.Model, MaxTokens: cfg.LLM.MaxTokens}
		if ro, ok := cfg.LLM.Roles[string(r)]; ok {
			if ro.Model != "" {
				opts.Model = ro.Model
			}
			opts.Temperature = ro.Temperature
		}
		return opts
	}

	var queryClient provider.Client
	if cfg.Orchestration.LLMQueries {
		queryClient = client
	}
	return NewTeam(
		NewPlanner(client, role(RolePlanner)),
		NewResearcher(search, queryClient, fetcher, ResearcherOptions{
			ResultsPerQuery: cfg.Search.ResultsPerQuery,
			MaxQueries:      cfg.Search.MaxQueries,
			Model:           role(RoleResearcher),
		}),
		NewWriter(client, role(RoleWriter)),
		NewEvaluator(client, role(RoleEvaluator)),
	)
}
