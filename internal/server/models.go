package server

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// CreateRunRequest starts a proposal run.
type CreateRunRequest struct {
	Text    string             `json:"text"`
	Type    string             `json:"type,omitempty"`
	Context string             `json:"context,omitempty"`
	Config  *RunConfigOverride `json:"config,omitempty"`
}

// RunConfigOverride replaces selected orchestration settings for one run.
// Durations use Go syntax ("90s", "2m").
type RunConfigOverride struct {
	AcceptanceThreshold *float64 `json:"acceptance_threshold,omitempty"`
	MaxIterations       *int     `json:"max_iterations,omitempty"`
	ResearchParallelism *int     `json:"research_parallelism,omitempty"`
	CallTimeout         string   `json:"call_timeout,omitempty"`
	MaxAttempts         *int     `json:"max_attempts,omitempty"`
	RetryBackoff        string   `json:"retry_backoff,omitempty"`
	FlagThreshold       *float64 `json:"flag_threshold,omitempty"`
	ResearchOnRefine    *bool    `json:"research_on_refine,omitempty"`
}

// CreateRunResponse carries the id of the started run.
type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

func (r CreateRunRequest) toRequest() (proposal.Request, error) {
	req := proposal.Request{Text: r.Text, Context: r.Context}
	if r.Type != "" {
		t, err := proposal.ParseType(r.Type)
		if err != nil {
			return proposal.Request{}, err
		}
		req.Type = t
	}
	return req, req.Validate()
}

// apply layers the override on base and returns the normalized result.
func (o *RunConfigOverride) apply(base config.OrchestrationConfig) (*config.OrchestrationConfig, error) {
	if o == nil {
		return nil, nil
	}
	cfg := base
	if o.AcceptanceThreshold != nil {
		cfg.AcceptanceThreshold = *o.AcceptanceThreshold
		// the flag threshold follows acceptance unless set explicitly
		if o.FlagThreshold == nil {
			cfg.FlagThreshold = 0
		}
	}
	if o.MaxIterations != nil {
		cfg.MaxIterations = *o.MaxIterations
	}
	if o.ResearchParallelism != nil {
		cfg.ResearchParallelism = *o.ResearchParallelism
	}
	if o.MaxAttempts != nil {
		cfg.MaxAttempts = *o.MaxAttempts
	}
	if o.FlagThreshold != nil {
		cfg.FlagThreshold = *o.FlagThreshold
	}
	if o.ResearchOnRefine != nil {
		cfg.ResearchOnRefine = *o.ResearchOnRefine
	}
	for _, d := range []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{o.CallTimeout, &cfg.CallTimeout, "call_timeout"},
		{o.RetryBackoff, &cfg.RetryBackoff, "retry_backoff"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("config.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if cfg.MaxIterations < 1 {
		return nil, fmt.Errorf("config.max_iterations must be >= 1")
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
