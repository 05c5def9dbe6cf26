package readability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goreadability "github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/proposer/tools/web_fetch/models"
)

const userAgent = "ProposerResearch/1.0 (+https://github.com/mohammad-safakhou/proposer)"

// maxBody caps how much HTML is read from a single page.
const maxBody = 4 << 20

// Fetch downloads a page over plain HTTP and extracts the article text.
type Fetch struct {
	client   *http.Client
	maxChars int
}

func NewFetch(timeout time.Duration, maxChars int) *Fetch {
	return &Fetch{client: &http.Client{Timeout: timeout}, maxChars: maxChars}
}

func (f *Fetch) Exec(ctx context.Context, rawURL string) (models.Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return models.Result{}, errors.New("invalid url")
	}
	t0 := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.Result{}, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return models.Result{URL: rawURL}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Result{URL: rawURL, Status: resp.StatusCode}, fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	html, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return models.Result{URL: rawURL, Status: resp.StatusCode}, err
	}
	res, err := Extract(string(html), rawURL, f.maxChars)
	res.Status = resp.StatusCode
	res.RenderMS = int(time.Since(t0) / time.Millisecond)
	return res, err
}

// Extract runs readability over raw HTML and truncates the text to maxChars runes.
func Extract(html, rawURL string, maxChars int) (models.Result, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		pageURL = &url.URL{}
	}
	article, err := goreadability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		return models.Result{URL: rawURL}, fmt.Errorf("readability: %w", err)
	}
	text := strings.Join(strings.Fields(article.TextContent), " ")
	if runes := []rune(text); maxChars > 0 && len(runes) > maxChars {
		text = string(runes[:maxChars])
	}
	return models.Result{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		SiteName: strings.TrimSpace(article.SiteName),
		Excerpt:  strings.TrimSpace(article.Excerpt),
		Text:     text,
	}, nil
}
