package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mohammad-safakhou/proposer/tools/web_search/models"
)

const defaultBaseURL = "https://google.serper.dev"

// Search queries the serper.dev Google search API.
type Search struct {
	ApiKey  string
	BaseURL string
	Client  *http.Client
}

type organic struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
}

func (s Search) Search(ctx context.Context, q string, k int) models.Results {
	return models.Lazy(func() ([]models.Result, error) {
		return s.discover(ctx, q, k)
	})
}

func (s Search) discover(ctx context.Context, q string, k int) ([]models.Result, error) {
	// https://serper.dev/ docs
	fail := func(status int, err error) error {
		return &models.SearchError{Provider: "serper", Query: q, StatusCode: status, RateLimited: status == http.StatusTooManyRequests, Err: err}
	}
	if k <= 0 {
		k = 5
	}
	body, err := json.Marshal(map[string]any{"q": q, "num": k})
	if err != nil {
		return nil, fail(0, err)
	}
	base := strings.TrimRight(s.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fail(0, err)
	}
	req.Header.Set("X-API-KEY", s.ApiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fail(0, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fail(resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	var raw struct {
		Organic []organic `json:"organic"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fail(resp.StatusCode, fmt.Errorf("decode: %w", err))
	}

	out := make([]models.Result, 0, len(raw.Organic))
	for i, it := range raw.Organic {
		if i >= k {
			break
		}
		out = append(out, models.Result{Title: it.Title, URL: it.Link, Snippet: it.Snippet, Rank: it.Position})
	}
	return out, nil
}

func (s Search) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return http.DefaultClient
}
