package orchestrator

import (
	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

// Decision is the refinement policy's verdict after an evaluation.
type Decision string

const (
	DecisionAccept    Decision = "accept"
	DecisionRefine    Decision = "refine"
	DecisionExhausted Decision = "exhausted"
)

// Decide applies the threshold first, then the iteration cap. iteration is
// the number of completed draft/evaluate rounds. The threshold is compared
// against the unrounded mean.
func Decide(score proposal.Score, iteration int, cfg config.OrchestrationConfig) Decision {
	if score.Exact() >= cfg.AcceptanceThreshold {
		return DecisionAccept
	}
	if iteration >= cfg.MaxIterations {
		return DecisionExhausted
	}
	return DecisionRefine
}

// Flagged lists the dimensions the writer must improve. When none fall below
// the flag threshold the weakest dimension is flagged.
func Flagged(score proposal.Score, cfg config.OrchestrationConfig) []proposal.Dimension {
	if below := score.Below(cfg.FlagThreshold); len(below) > 0 {
		return below
	}
	var (
		weakest proposal.Dimension
		lowest  = proposal.MaxScore + 1
	)
	for _, d := range proposal.Dimensions {
		if v, ok := score.Dimensions[d]; ok && v.Value < lowest {
			weakest, lowest = d, v.Value
		}
	}
	if weakest == "" {
		return nil
	}
	return []proposal.Dimension{weakest}
}

func flags(dims []proposal.Dimension, d proposal.Dimension) bool {
	for _, x := range dims {
		if x == d {
			return true
		}
	}
	return false
}
