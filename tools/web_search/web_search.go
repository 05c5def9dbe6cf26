package web_search

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/tools/web_search/brave"
	"github.com/mohammad-safakhou/proposer/tools/web_search/models"
	"github.com/mohammad-safakhou/proposer/tools/web_search/serper"
)

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

// NewWebSearcher builds the configured provider, wrapped in relevance ranking when enabled.
func NewWebSearcher(cfg config.SearchConfig) (models.Searcher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var s models.Searcher
	switch Provider(cfg.Provider) {
	case SerperProvider:
		s = serper.Search{ApiKey: cfg.APIKey, BaseURL: cfg.BaseURL, Client: client}
	case BraveProvider:
		s = brave.Search{ApiKey: cfg.APIKey, BaseURL: cfg.BaseURL, Client: client}
	default:
		return nil, fmt.Errorf("unsupported search provider %q", cfg.Provider)
	}
	if cfg.Rank {
		s = Ranked{Inner: s}
	}
	return s, nil
}

// Ranked reorders provider hits by lexical relevance to the query using an
// in-memory bleve index built per call. Hits the index does not match keep
// their provider order after the matched ones.
type Ranked struct {
	Inner models.Searcher
}

type rankDoc struct {
	Title   string
	Snippet string
}

func (r Ranked) Search(ctx context.Context, q string, k int) models.Results {
	return func(yield func(models.Result, error) bool) {
		hits, err := models.Collect(r.Inner.Search(ctx, q, k), 0)
		if err != nil {
			yield(models.Result{}, err)
			return
		}
		for i, h := range rank(q, hits) {
			h.Rank = i + 1
			if !yield(h, nil) {
				return
			}
		}
	}
}

func rank(q string, hits []models.Result) []models.Result {
	if len(hits) < 2 {
		return hits
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return hits
	}
	defer index.Close()

	batch := index.NewBatch()
	for i, h := range hits {
		if err := batch.Index(strconv.Itoa(i), rankDoc{Title: h.Title, Snippet: h.Snippet}); err != nil {
			return hits
		}
	}
	if err := index.Batch(batch); err != nil {
		return hits
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), len(hits), 0, false)
	res, err := index.Search(req)
	if err != nil {
		return hits
	}

	out := make([]models.Result, 0, len(hits))
	used := make([]bool, len(hits))
	for _, m := range res.Hits {
		i, err := strconv.Atoi(m.ID)
		if err != nil || i < 0 || i >= len(hits) || used[i] {
			continue
		}
		h := hits[i]
		h.Score = m.Score
		out = append(out, h)
		used[i] = true
	}
	for i, h := range hits {
		if !used[i] {
			out = append(out, h)
		}
	}
	return out
}
