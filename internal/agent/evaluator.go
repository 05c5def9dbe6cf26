package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/provider"
)

// Evaluator scores a draft on the fixed rubric.
type Evaluator struct {
	llmAgent
}

func NewEvaluator(client provider.Client, opts ModelOptions) *Evaluator {
	if opts.Temperature == nil {
		opts.Temperature = temperature(0.1)
	}
	return &Evaluator{llmAgent{role: RoleEvaluator, client: client, opts: opts}}
}

func (e *Evaluator) Role() Role { return RoleEvaluator }

type dimensionReply struct {
	Value     *float64 `json:"value"`
	Rationale string   `json:"rationale"`
}

type evaluatorReply struct {
	Scores   map[string]dimensionReply `json:"scores"`
	Critique string                    `json:"critique"`
}

// summaryKeys are aggregate fields models like to add; they are ignored
// because the aggregate is always computed locally.
var summaryKeys = map[string]struct{}{"overall": {}, "overall_score": {}, "aggregate": {}, "average": {}, "mean": {}}

func (e *Evaluator) Invoke(ctx context.Context, in Input, sc Context) (Output, error) {
	if in.Draft == nil {
		return Output{}, SchemaFailure(RoleEvaluator, errors.New("no draft to evaluate"))
	}
	var reply evaluatorReply
	if err := e.ask(ctx, evaluatorSystemPrompt, evaluatorUserPrompt(sc, in.Outline.Titles(), *in.Draft), &reply); err != nil {
		return Output{}, err
	}
	score, err := parseScore(reply, in.Draft.Version)
	if err != nil {
		return Output{}, SchemaFailure(RoleEvaluator, err)
	}
	return Output{Score: &score}, nil
}

func parseScore(reply evaluatorReply, version int) (proposal.Score, error) {
	dims := make(map[proposal.Dimension]proposal.DimensionScore, len(proposal.Dimensions))
	for key, v := range reply.Scores {
		norm := strings.ToLower(strings.TrimSpace(key))
		norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
		if _, skip := summaryKeys[norm]; skip {
			continue
		}
		if v.Value == nil {
			return proposal.Score{}, fmt.Errorf("dimension %q has no value", key)
		}
		d := proposal.Dimension(norm)
		if _, dup := dims[d]; dup {
			return proposal.Score{}, fmt.Errorf("dimension %q scored twice", key)
		}
		dims[d] = proposal.DimensionScore{Value: *v.Value, Rationale: strings.TrimSpace(v.Rationale)}
	}
	score := proposal.Score{
		Version:    version,
		Dimensions: dims,
		Critique:   strings.TrimSpace(reply.Critique),
	}
	if err := score.Validate(); err != nil {
		return proposal.Score{}, err
	}
	score.Aggregate = proposal.Mean(dims)
	return score, nil
}
