package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/proposer/provider"
)

const defaultBaseURL = "https://api.openai.com/v1"

// client implements provider.Client against the chat completions API.
type client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *log.Logger
}

// request represents a request to the OpenAI API
type request struct {
	Model          string             `json:"model"`
	Messages       []provider.Message `json:"messages"`
	Temperature    float64            `json:"temperature"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat    `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// response represents a response from the OpenAI API
type response struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Options configures the client. Zero values fall back to sensible defaults.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Logger      *log.Logger
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(opts Options) *client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &client{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Complete implements provider.Client.
func (c *client) Complete(ctx context.Context, in provider.CompletionRequest) (string, error) {
	body := request{
		Model:       c.model,
		Messages:    in.Messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if in.Model != "" {
		body.Model = in.Model
	}
	if in.Temperature != nil {
		body.Temperature = *in.Temperature
	}
	if in.MaxTokens > 0 {
		body.MaxTokens = in.MaxTokens
	}
	if in.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return c.sendRequest(ctx, body)
}

// sendRequest sends a request to the OpenAI API
func (c *client) sendRequest(ctx context.Context, body request) (string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", c.fail(0, false, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", c.fail(0, false, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", c.fail(0, errors.Is(ctxErr, context.DeadlineExceeded), ctxErr)
		}
		return "", c.fail(0, true, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.fail(resp.StatusCode, true, fmt.Errorf("failed to read response body: %w", err))
	}
	c.logger.Printf("model=%s status=%d latency=%s bytes=%d", body.Model, resp.StatusCode, time.Since(started).Round(time.Millisecond), len(raw))

	var decoded response
	decodeErr := json.Unmarshal(raw, &decoded)

	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return "", c.fail(resp.StatusCode, provider.RetryableStatus(resp.StatusCode), errors.New(msg))
	}
	if decodeErr != nil {
		return "", c.fail(resp.StatusCode, true, fmt.Errorf("failed to parse response: %w", decodeErr))
	}
	if len(decoded.Choices) == 0 {
		return "", c.fail(resp.StatusCode, true, errors.New("no choices in response"))
	}
	return decoded.Choices[0].Message.Content, nil
}

func (c *client) fail(status int, retryable bool, err error) error {
	return &provider.Error{Provider: "openai", StatusCode: status, Retryable: retryable, Err: err}
}
