package orchestrator

import (
	"github.com/mohammad-safakhou/proposer/internal/agent"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/internal/session"
)

// Step event payloads. Planning completes with a proposal.Outline and
// drafting with a proposal.Draft; the rest use the types below.

// DraftStarted announces the draft version being written or evaluated.
type DraftStarted struct {
	Version int `json:"version"`
}

// ResearchBatch is the findings gathered for one section.
type ResearchBatch struct {
	Section  string             `json:"section"`
	Findings []proposal.Finding `json:"findings,omitempty"`
	Added    int                `json:"added"`
}

// ResearchSummary closes a research pass.
type ResearchSummary struct {
	Sections int `json:"sections"`
	Findings int `json:"findings"`
}

// Evaluation carries a score and where the run stands against its limits.
type Evaluation struct {
	Score         proposal.Score `json:"score"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"max_iterations"`
	Threshold     float64        `json:"threshold"`
}

// Refinement explains why another draft is requested.
type Refinement struct {
	Iteration     int                  `json:"iteration"`
	MaxIterations int                  `json:"max_iterations"`
	Aggregate     float64              `json:"aggregate"`
	Flagged       []proposal.Dimension `json:"flagged"`
}

// Completion is the payload of the terminal DONE event.
type Completion struct {
	Outcome    Outcome `json:"outcome"`
	Version    int     `json:"version"`
	Aggregate  float64 `json:"aggregate"`
	Iterations int     `json:"iterations"`
}

// Failure is the payload of failed steps and of the terminal FAILED and
// CANCELLED events.
type Failure struct {
	Stage    session.Stage     `json:"stage"`
	Role     agent.Role        `json:"role,omitempty"`
	Attempts int               `json:"attempts,omitempty"`
	Error    string            `json:"error"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
}
