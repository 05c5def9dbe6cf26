package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/proposer/tools/web_search/models"
)

const defaultBaseURL = "https://api.search.brave.com/res/v1"

// Search queries the Brave web search API.
type Search struct {
	ApiKey  string
	BaseURL string
	Client  *http.Client
}

func (s Search) Search(ctx context.Context, q string, k int) models.Results {
	return models.Lazy(func() ([]models.Result, error) {
		return s.discover(ctx, q, k)
	})
}

func (s Search) discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://api.search.brave.com/app/documentation/web-search
	fail := func(status int, err error) error {
		return &models.SearchError{Provider: "brave", Query: q, StatusCode: status, RateLimited: status == http.StatusTooManyRequests, Err: err}
	}
	if k <= 0 {
		k = 5
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	params := url.Values{}
	params.Set("q", q)
	params.Set("count", strconv.Itoa(k))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/web/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", s.ApiKey)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fail(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	var raw struct {
		Web struct {
			Results []struct {
				Title   string `json:"title"`
				URL     string `json:"url"`
				Snippet string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("decode: %w", err))
	}
	var out []models.Result
	for i, r := range raw.Web.Results {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: r.Title, URL: r.URL, Snippet: r.Snippet, Rank: i + 1})
	}
	return out, nil
}
