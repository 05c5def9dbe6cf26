package agent

import (
	"context"

	"github.com/mohammad-safakhou/proposer/provider"
)

// ModelOptions selects the model and sampling for one role.
type ModelOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// llmAgent is the shared plumbing for model-backed roles.
type llmAgent struct {
	role   Role
	client provider.Client
	opts   ModelOptions
}

// ask sends a JSON-constrained exchange and decodes the reply into out.
func (a llmAgent) ask(ctx context.Context, system, user string, out any) error {
	reply, err := a.client.Complete(ctx, provider.CompletionRequest{
		Model:       a.opts.Model,
		Messages:    []provider.Message{provider.System(system), provider.User(user)},
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
		JSON:        true,
	})
	if err != nil {
		return ProviderFailure(a.role, err)
	}
	if err := provider.DecodeJSON(reply, out); err != nil {
		return SchemaFailure(a.role, err)
	}
	return nil
}

func temperature(v float64) *float64 { return &v }
