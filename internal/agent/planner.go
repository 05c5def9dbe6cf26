package agent

import (
	"context"
	"strings"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/provider"
)

// Planner turns a request into an outline.
type Planner struct {
	llmAgent
}

func NewPlanner(client provider.Client, opts ModelOptions) *Planner {
	if opts.Temperature == nil {
		opts.Temperature = temperature(0.3)
	}
	return &Planner{llmAgent{role: RolePlanner, client: client, opts: opts}}
}

func (p *Planner) Role() Role { return RolePlanner }

type plannerReply struct {
	ProposalType string   `json:"proposal_type"`
	KeyFacts     []string `json:"key_facts"`
	Sections     []struct {
		Title    string `json:"title"`
		Guidance string `json:"guidance"`
	} `json:"sections"`
	Questions []string `json:"questions_for_user"`
}

func (p *Planner) Invoke(ctx context.Context, in Input, sc Context) (Output, error) {
	var reply plannerReply
	if err := p.ask(ctx, plannerSystemPrompt, plannerUserPrompt(in.Request), &reply); err != nil {
		return Output{}, err
	}

	outline := proposal.Outline{
		ProposalType: resolveType(in.Request.Type, reply.ProposalType),
		KeyFacts:     compact(reply.KeyFacts),
		Questions:    compact(reply.Questions),
	}
	for _, s := range reply.Sections {
		outline.Sections = append(outline.Sections, proposal.Section{
			Title:    strings.Join(strings.Fields(s.Title), " "),
			Guidance: strings.TrimSpace(s.Guidance),
		})
	}
	if err := outline.Validate(); err != nil {
		return Output{}, SchemaFailure(RolePlanner, err)
	}
	return Output{Outline: &outline}, nil
}

// resolveType prefers the user's tag, then the planner's classification, then General.
func resolveType(tagged proposal.Type, detected string) proposal.Type {
	if tagged != "" {
		return tagged
	}
	if t, err := proposal.ParseType(detected); err == nil && t != "" {
		return t
	}
	return proposal.General
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
