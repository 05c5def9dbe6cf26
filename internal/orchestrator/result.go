package orchestrator

import (
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/proposer/internal/agent"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/internal/session"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeAccepted        Outcome = "accepted"
	OutcomeBudgetExhausted Outcome = "budget_exhausted"
	OutcomeFailed          Outcome = "failed"
	OutcomeCancelled       Outcome = "cancelled"
)

// ErrCancelled is wrapped by the error returned for a stopped run.
var ErrCancelled = errors.New("run cancelled")

// RunError reports a stage whose agent kept failing after every attempt.
type RunError struct {
	Stage    session.Stage
	Role     agent.Role
	Attempts int
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("run failed at %s (%s, %d attempts): %v", e.Stage, e.Role, e.Attempts, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Result is the terminal report of a run. Draft and Score are set for
// accepted and budget-exhausted runs.
type Result struct {
	RunID      string
	Outcome    Outcome
	Draft      *proposal.Draft
	Score      *proposal.Score
	Outline    *proposal.Outline
	Findings   []proposal.Finding
	Iterations int
	Snapshot   session.Snapshot
	Err        error
}

// Finished reports whether the run produced a proposal.
func (r *Result) Finished() bool {
	return r != nil && (r.Outcome == OutcomeAccepted || r.Outcome == OutcomeBudgetExhausted)
}
