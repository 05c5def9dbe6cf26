package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mohammad-safakhou/proposer/internal/agent"
	"github.com/mohammad-safakhou/proposer/internal/session"
)

// invoke calls the agent for role with a per-call deadline, retrying
// retryable failures with exponential backoff up to MaxAttempts total calls.
// check validates the output; a rejected output counts as a schema failure.
func (r *run) invoke(ctx context.Context, stage session.Stage, role agent.Role, in agent.Input, check func(agent.Output) error) (agent.Output, error) {
	a := r.o.team.Get(role)
	m := meters()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.RetryBackoff
	eb.MaxInterval = 20 * r.cfg.RetryBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.cfg.MaxAttempts-1)), ctx)

	var (
		out      agent.Output
		attempts int
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()

		res, err := a.Invoke(callCtx, in, r.agentContext())
		if err == nil && check != nil {
			if cerr := check(res); cerr != nil {
				err = agent.SchemaFailure(role, cerr)
			}
		}
		m.attempt(ctx, string(role), err == nil)
		if err == nil {
			out = res
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if gf, ok := agent.AsFailure(err); ok && !gf.Retryable {
			r.logger.Printf("run=%s %s attempt %d failed permanently: %v", r.id, role, attempts, err)
			return backoff.Permanent(err)
		}
		r.logger.Printf("run=%s %s attempt %d/%d failed: %v", r.id, role, attempts, r.cfg.MaxAttempts, err)
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Printf("run=%s %s retrying in %s", r.id, role, wait.Round(time.Millisecond))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctx.Err() != nil {
			return agent.Output{}, cancelled(ctx)
		}
		return agent.Output{}, &RunError{Stage: stage, Role: role, Attempts: attempts, Err: err}
	}
	return out, nil
}

func cancelled(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
