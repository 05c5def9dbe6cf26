package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/provider"
	"github.com/mohammad-safakhou/proposer/tools/web_fetch"
	searchmodels "github.com/mohammad-safakhou/proposer/tools/web_search/models"
)

// ResearcherOptions tunes query formulation and result volume.
type ResearcherOptions struct {
	// ResultsPerQuery caps hits consumed per query.
	ResultsPerQuery int
	// MaxQueries caps queries issued per section.
	MaxQueries int
	// Model, when Client is set, drives LLM query formulation.
	Model ModelOptions
}

// Researcher gathers findings for one outline section.
type Researcher struct {
	search  searchmodels.Searcher
	fetcher web_fetch.WebFetcher
	llm     *llmAgent
	opts    ResearcherOptions
}

// NewResearcher builds a researcher. client and fetcher are optional: without a
// client queries are derived from the section itself; without a fetcher
// snippets are used as returned by the search provider.
func NewResearcher(search searchmodels.Searcher, client provider.Client, fetcher web_fetch.WebFetcher, opts ResearcherOptions) *Researcher {
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = 3
	}
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = 5
	}
	r := &Researcher{search: search, fetcher: fetcher, opts: opts}
	if client != nil {
		if opts.Model.Temperature == nil {
			opts.Model.Temperature = temperature(0.7)
		}
		r.llm = &llmAgent{role: RoleResearcher, client: client, opts: opts.Model}
	}
	return r
}

func (r *Researcher) Role() Role { return RoleResearcher }

func (r *Researcher) Invoke(ctx context.Context, in Input, sc Context) (Output, error) {
	queries, err := r.queries(ctx, in.Section, sc.Request)
	if err != nil {
		return Output{}, err
	}

	seen := make(map[string]struct{})
	var findings []proposal.Finding
	for _, q := range queries {
		taken := 0
		for hit, err := range r.search.Search(ctx, q, r.opts.ResultsPerQuery) {
			if err != nil {
				return Output{}, ProviderFailure(RoleResearcher, err)
			}
			if taken >= r.opts.ResultsPerQuery {
				break
			}
			taken++
			key := canonicalURL(hit.URL)
			if key == "" {
				key = hit.Title + "|" + hit.Snippet
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			findings = append(findings, proposal.Finding{
				Section: in.Section.Title,
				Query:   q,
				Snippet: r.enrich(ctx, hit),
				Source:  proposal.Source{Title: strings.TrimSpace(hit.Title), URL: strings.TrimSpace(hit.URL)},
			})
		}
		if err := ctx.Err(); err != nil {
			return Output{}, ProviderFailure(RoleResearcher, err)
		}
	}
	return Output{Findings: findings}, nil
}

// enrich replaces a thin snippet with the page's readable text when a fetcher
// is configured. Fetch failures keep the provider snippet.
func (r *Researcher) enrich(ctx context.Context, hit searchmodels.Result) string {
	snippet := strings.TrimSpace(hit.Snippet)
	if r.fetcher == nil || hit.URL == "" {
		return snippet
	}
	page, err := r.fetcher.Exec(ctx, hit.URL)
	if err != nil || len(page.Text) <= len(snippet) {
		return snippet
	}
	return page.Text
}

type queryReply struct {
	Queries []string `json:"queries"`
}

func (r *Researcher) queries(ctx context.Context, section proposal.Section, req proposal.Request) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	add := func(q string) {
		q = strings.Join(strings.Fields(q), " ")
		key := strings.ToLower(q)
		if q == "" || len(out) >= r.opts.MaxQueries {
			return
		}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}

	add(fmt.Sprintf("%s %s", section.Title, topic(req.Text, 12)))
	if r.llm != nil {
		var reply queryReply
		system := fmt.Sprintf(queryWriterPrompt, r.opts.MaxQueries)
		if err := r.llm.ask(ctx, system, queryUserPrompt(section, req), &reply); err != nil {
			return nil, err
		}
		for _, q := range reply.Queries {
			add(q)
		}
	}
	return out, nil
}

// topic keeps the first n words of the request for grounding queries.
func topic(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
