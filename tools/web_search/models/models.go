package models

import (
	"context"
	"fmt"
	"iter"
)

// Result is one ranked search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Snippet string  `json:"snippet"`
	Rank    int     `json:"rank"`
	Score   float64 `json:"score,omitempty"`
}

// Results is a finite, lazily evaluated sequence of hits. Each range over it
// re-runs the underlying query. A failure is yielded once as the final element.
type Results = iter.Seq2[Result, error]

// Searcher turns a text query into ranked results.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) Results
}

// SearchError is a typed failure from a search provider.
type SearchError struct {
	Provider    string
	Query       string
	StatusCode  int
	RateLimited bool
	Err         error
}

func (e *SearchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s search %q: status %d: %v", e.Provider, e.Query, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s search %q: %v", e.Provider, e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func (e *SearchError) Retryable() bool {
	return e.RateLimited || e.StatusCode == 0 || e.StatusCode >= 500
}

// Lazy defers fetch until the sequence is ranged over.
func Lazy(fetch func() ([]Result, error)) Results {
	return func(yield func(Result, error) bool) {
		hits, err := fetch()
		if err != nil {
			yield(Result{}, err)
			return
		}
		for i, h := range hits {
			if h.Rank == 0 {
				h.Rank = i + 1
			}
			if !yield(h, nil) {
				return
			}
		}
	}
}

// Collect drains up to max results (all when max <= 0).
func Collect(seq Results, max int) ([]Result, error) {
	var out []Result
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}
