package provider

import (
	"context"
	"errors"
	"fmt"
)

// Client is the model provider boundary shared by every agent.
type Client interface {
	// Complete sends one chat exchange and returns the raw assistant text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a provider-neutral chat request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   int
	// JSON asks the provider to constrain output to a JSON object when supported.
	JSON bool
}

// System and User build the two message kinds agents use.
func System(content string) Message { return Message{Role: "system", Content: content} }
func User(content string) Message   { return Message{Role: "user", Content: content} }

// Error is a failed exchange with a model provider.
type Error struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a provider error worth another attempt.
// Errors that are not provider errors are treated as retryable unless they are
// context cancellations.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}

// RetryableStatus classifies an HTTP status code from an upstream API.
func RetryableStatus(code int) bool {
	return code == 408 || code == 409 || code == 429 || code >= 500
}
