package agent

import (
	"context"
	"fmt"

	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

// Role selects which of the four agents handles an invocation.
type Role string

const (
	RolePlanner    Role = "planner"
	RoleResearcher Role = "researcher"
	RoleWriter     Role = "writer"
	RoleEvaluator  Role = "evaluator"
)

// Roles lists every role in pipeline order.
var Roles = []Role{RolePlanner, RoleResearcher, RoleWriter, RoleEvaluator}

// Context is the read-only slice of session state handed to an agent.
type Context struct {
	RunID        string
	Request      proposal.Request
	ProposalType proposal.Type
	Iteration    int
}

// Input carries the role-specific structured input. Only the fields the
// receiving role reads are populated.
type Input struct {
	// Planner
	Request proposal.Request
	// Researcher
	Section proposal.Section
	// Writer
	Outline  proposal.Outline
	Findings []proposal.Finding
	Prior    *proposal.Draft
	Feedback *proposal.Score
	Flagged  []proposal.Dimension
	// Evaluator
	Draft *proposal.Draft
}

// Output carries the role-specific structured output.
type Output struct {
	Outline  *proposal.Outline
	Findings []proposal.Finding
	Draft    *proposal.Draft
	Score    *proposal.Score
}

// Agent is the capability shared by planner, researcher, writer and evaluator.
// Implementations hold no per-run state and perform no retries.
type Agent interface {
	Role() Role
	Invoke(ctx context.Context, in Input, sc Context) (Output, error)
}

// Team resolves an agent per role.
type Team struct {
	agents map[Role]Agent
}

// NewTeam requires exactly one agent for every role.
func NewTeam(agents ...Agent) (*Team, error) {
	t := &Team{agents: make(map[Role]Agent, len(Roles))}
	for _, a := range agents {
		if a == nil {
			return nil, fmt.Errorf("nil agent")
		}
		if _, dup := t.agents[a.Role()]; dup {
			return nil, fmt.Errorf("duplicate agent for role %s", a.Role())
		}
		t.agents[a.Role()] = a
	}
	for _, r := range Roles {
		if _, ok := t.agents[r]; !ok {
			return nil, fmt.Errorf("missing agent for role %s", r)
		}
	}
	return t, nil
}

// Get returns the agent registered for role.
func (t *Team) Get(role Role) Agent {
	return t.agents[role]
}
