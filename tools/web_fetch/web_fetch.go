package web_fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/tools/web_fetch/chromedp"
	"github.com/mohammad-safakhou/proposer/tools/web_fetch/models"
	"github.com/mohammad-safakhou/proposer/tools/web_fetch/readability"
)

const (
	DefaultTimeout  = 15 * time.Second
	MaxCharsDefault = 2000
)

// WebFetcher loads a page and extracts its readable text.
type WebFetcher interface {
	Exec(ctx context.Context, url string) (models.Result, error)
}

type FetcherType string

const (
	HTTPFetcherType     FetcherType = "http"
	ChromedpFetcherType FetcherType = "chromedp"
)

// NewWebFetcher returns nil when fetching is disabled.
func NewWebFetcher(cfg config.FetchConfig) (WebFetcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = MaxCharsDefault
	}

	switch FetcherType(cfg.Mode) {
	case HTTPFetcherType, "":
		return readability.NewFetch(timeout, maxChars), nil
	case ChromedpFetcherType:
		return &chromedp.Fetch{Timeout: timeout, MaxChars: maxChars}, nil
	default:
		return nil, fmt.Errorf("unsupported fetcher type %q", cfg.Mode)
	}
}
