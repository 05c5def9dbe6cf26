package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/agent"
	"github.com/mohammad-safakhou/proposer/internal/events"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
	"github.com/mohammad-safakhou/proposer/internal/session"
)

// Orchestrator drives the planner, researcher, writer and evaluator through
// the refinement state machine. It holds no per-run state and may serve
// concurrent runs.
type Orchestrator struct {
	team    *agent.Team
	cfg     config.OrchestrationConfig
	emitter events.Emitter
	logger  *log.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter sets the sink every run's step events go to.
func WithEmitter(e events.Emitter) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.emitter = e
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New validates cfg and builds an orchestrator around team.
func New(team *agent.Team, cfg config.OrchestrationConfig, opts ...Option) (*Orchestrator, error) {
	if team == nil {
		return nil, errors.New("agent team is required")
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		team:    team,
		cfg:     cfg,
		emitter: events.Discard,
		logger:  log.New(log.Writer(), "[ORCH] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the default run configuration.
func (o *Orchestrator) Config() config.OrchestrationConfig { return o.cfg }

// RunOption adjusts a single run.
type RunOption func(*run)

// WithConfig overrides the orchestration settings for one run.
func WithConfig(cfg config.OrchestrationConfig) RunOption {
	return func(r *run) { r.cfg = cfg.Normalize() }
}

// WithRunEmitter adds a sink that receives only this run's events.
func WithRunEmitter(e events.Emitter) RunOption {
	return func(r *run) {
		if e != nil {
			r.emitter = events.Multi(r.emitter, e)
		}
	}
}

// EmitterOf returns the run-scoped sink that opts install. Runner
// implementations other than the Orchestrator use it to honour
// WithRunEmitter.
func EmitterOf(opts ...RunOption) events.Emitter {
	r := &run{emitter: events.Discard}
	for _, opt := range opts {
		opt(r)
	}
	return r.emitter
}

// run is the per-request execution of the state machine.
type run struct {
	o       *Orchestrator
	id      string
	cfg     config.OrchestrationConfig
	state   *session.State
	emitter events.Emitter
	logger  *log.Logger

	emitMu sync.Mutex
	seq    int64
}

// Run executes one request to a terminal outcome. It returns a nil error for
// accepted and budget-exhausted runs, a *RunError when an agent exhausts its
// attempts, and an error wrapping ErrCancelled when ctx is cancelled. The
// Result is non-nil in every case except an invalid request or configuration.
func (o *Orchestrator) Run(ctx context.Context, req proposal.Request, opts ...RunOption) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	r := &run{
		o:       o,
		id:      req.ID,
		cfg:     o.cfg,
		state:   session.New(req),
		emitter: o.emitter,
		logger:  o.logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run configuration: %w", err)
	}

	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("proposal.type", string(req.Type)),
		attribute.Float64("acceptance_threshold", r.cfg.AcceptanceThreshold),
		attribute.Int("max_iterations", r.cfg.MaxIterations),
	))
	defer span.End()

	res, err := r.execute(ctx)
	meters().run(context.WithoutCancel(ctx), res.Outcome)
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)), attribute.Int("iterations", res.Iterations))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	r.logger.Printf("run=%s started (threshold %.2f, max iterations %d)", r.id, r.cfg.AcceptanceThreshold, r.cfg.MaxIterations)

	outline, err := r.plan(ctx)
	if err != nil {
		return r.fail(ctx, err)
	}
	if err := r.researchAll(ctx, session.StageResearching, outline); err != nil {
		return r.fail(ctx, err)
	}

	for {
		if err := r.draft(ctx, outline); err != nil {
			return r.fail(ctx, err)
		}
		score, err := r.evaluate(ctx, outline)
		if err != nil {
			return r.fail(ctx, err)
		}

		iteration := r.state.NextIteration()
		switch Decide(score, iteration, r.cfg) {
		case DecisionAccept:
			return r.finish(ctx, OutcomeAccepted)
		case DecisionExhausted:
			return r.finish(ctx, OutcomeBudgetExhausted)
		}

		if err := r.refine(ctx, outline, score, iteration); err != nil {
			return r.fail(ctx, err)
		}
	}
}

func (r *run) agentContext() agent.Context {
	req := r.state.Request()
	sc := agent.Context{RunID: r.id, Request: req, ProposalType: req.Type, Iteration: r.state.Iteration()}
	if o, ok := r.state.Outline(); ok {
		sc.ProposalType = o.ProposalType
	}
	return sc
}

// enter moves the state machine and opens a span for the stage.
func (r *run) enter(ctx context.Context, stage session.Stage) (context.Context, func(error), error) {
	if err := ctx.Err(); err != nil {
		return ctx, func(error) {}, cancelled(ctx)
	}
	if err := r.state.SetStage(stage); err != nil {
		return ctx, func(error) {}, err
	}
	started := time.Now()
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.stage", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("stage", string(stage)),
	))
	return ctx, func(err error) {
		meters().stage(context.WithoutCancel(ctx), string(stage), started)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}, nil
}

func (r *run) plan(ctx context.Context) (out proposal.Outline, err error) {
	ctx, done, err := r.enter(ctx, session.StagePlanning)
	if err != nil {
		return proposal.Outline{}, err
	}
	defer func() { done(err) }()

	r.emit(ctx, session.StagePlanning, "plan", events.StatusStarted, nil)
	res, err := r.invoke(ctx, session.StagePlanning, agent.RolePlanner, agent.Input{Request: r.state.Request()},
		func(o agent.Output) error {
			if o.Outline == nil {
				return errors.New("planner returned no outline")
			}
			return o.Outline.Validate()
		})
	if err != nil {
		r.emitStageError(ctx, session.StagePlanning, "plan", err)
		return proposal.Outline{}, err
	}
	outline := *res.Outline
	if outline.ProposalType == "" {
		outline.ProposalType = resolveType(r.state.Request().Type)
	}
	r.state.SetOutline(outline)
	r.emit(ctx, session.StagePlanning, "plan", events.StatusCompleted, outline)
	return outline, nil
}

func resolveType(t proposal.Type) proposal.Type {
	if t == "" {
		return proposal.General
	}
	return t
}

func (r *run) draft(ctx context.Context, outline proposal.Outline) (err error) {
	ctx, done, err := r.enter(ctx, session.StageDrafting)
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	in := agent.Input{Outline: outline, Findings: r.state.Findings()}
	if prior, ok := r.state.Latest(); ok {
		in.Prior = &prior
		if sc, ok := r.state.LatestScore(); ok {
			in.Feedback = &sc
			in.Flagged = Flagged(sc, r.cfg)
		}
	}
	want := 1
	if in.Prior != nil {
		want = in.Prior.Version + 1
	}

	r.emit(ctx, session.StageDrafting, "draft", events.StatusStarted, DraftStarted{Version: want})
	res, err := r.invoke(ctx, session.StageDrafting, agent.RoleWriter, in, func(o agent.Output) error {
		if o.Draft == nil {
			return errors.New("writer returned no draft")
		}
		if o.Draft.Version != want {
			return fmt.Errorf("writer returned version %d, expected %d", o.Draft.Version, want)
		}
		return o.Draft.ValidateAgainst(outline)
	})
	if err != nil {
		r.emitStageError(ctx, session.StageDrafting, "draft", err)
		return err
	}
	if err := r.state.RecordDraft(*res.Draft); err != nil {
		return &RunError{Stage: session.StageDrafting, Role: agent.RoleWriter, Attempts: 1, Err: err}
	}
	r.emit(ctx, session.StageDrafting, "draft", events.StatusCompleted, *res.Draft)
	return nil
}

func (r *run) evaluate(ctx context.Context, outline proposal.Outline) (score proposal.Score, err error) {
	ctx, done, err := r.enter(ctx, session.StageEvaluating)
	if err != nil {
		return proposal.Score{}, err
	}
	defer func() { done(err) }()

	d, _ := r.state.Latest()
	r.emit(ctx, session.StageEvaluating, "evaluate", events.StatusStarted, DraftStarted{Version: d.Version})
	res, err := r.invoke(ctx, session.StageEvaluating, agent.RoleEvaluator, agent.Input{Outline: outline, Draft: &d},
		func(o agent.Output) error {
			if o.Score == nil {
				return errors.New("evaluator returned no score")
			}
			if o.Score.Version != d.Version {
				return fmt.Errorf("evaluator scored version %d, expected %d", o.Score.Version, d.Version)
			}
			return o.Score.Validate()
		})
	if err != nil {
		r.emitStageError(ctx, session.StageEvaluating, "evaluate", err)
		return proposal.Score{}, err
	}
	score = *res.Score
	score.Aggregate = proposal.Mean(score.Dimensions)
	if err := r.state.RecordScore(score); err != nil {
		return proposal.Score{}, &RunError{Stage: session.StageEvaluating, Role: agent.RoleEvaluator, Attempts: 1, Err: err}
	}
	meters().score(ctx, score.Aggregate)
	r.emit(ctx, session.StageEvaluating, "evaluate", events.StatusCompleted, Evaluation{
		Score:         score,
		Iteration:     r.state.Iteration() + 1,
		MaxIterations: r.cfg.MaxIterations,
		Threshold:     r.cfg.AcceptanceThreshold,
	})
	return score, nil
}

func (r *run) refine(ctx context.Context, outline proposal.Outline, score proposal.Score, iteration int) (err error) {
	ctx, done, err := r.enter(ctx, session.StageRefining)
	if err != nil {
		return err
	}
	defer func() { done(err) }()

	flagged := Flagged(score, r.cfg)
	payload := Refinement{Iteration: iteration, MaxIterations: r.cfg.MaxIterations, Aggregate: score.Aggregate, Flagged: flagged}
	r.emit(ctx, session.StageRefining, "refine", events.StatusStarted, payload)
	r.logger.Printf("run=%s v%d scored %.2f < %.2f, refining (%d/%d) flagged=%v",
		r.id, score.Version, score.Aggregate, r.cfg.AcceptanceThreshold, iteration, r.cfg.MaxIterations, flagged)

	if r.cfg.ResearchOnRefine && flags(flagged, proposal.EvidentiarySupport) {
		if err := r.researchAll(ctx, session.StageRefining, outline); err != nil {
			return err
		}
	}
	r.emit(ctx, session.StageRefining, "refine", events.StatusCompleted, payload)
	return nil
}

// finish closes a run that produced a proposal. The best-scoring draft is
// returned, which is the latest one for an accepted run.
func (r *run) finish(ctx context.Context, outcome Outcome) (*Result, error) {
	_ = r.state.SetStage(session.StageDone)
	res := r.result(outcome, nil)
	payload := Completion{Outcome: outcome, Iterations: res.Iterations}
	if res.Draft != nil {
		payload.Version = res.Draft.Version
		payload.Aggregate = res.Score.Aggregate
	}
	r.emit(context.WithoutCancel(ctx), session.StageDone, "done", events.StatusCompleted, payload)
	r.logger.Printf("run=%s %s with v%d (%.2f) after %d iteration(s)", r.id, outcome, payload.Version, payload.Aggregate, res.Iterations)
	return res, nil
}

// fail turns a stage error into the terminal failed or cancelled outcome.
func (r *run) fail(ctx context.Context, err error) (*Result, error) {
	tctx := context.WithoutCancel(ctx)
	if errors.Is(err, ErrCancelled) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		stage := r.state.Stage()
		_ = r.state.SetStage(session.StageCancelled)
		if !errors.Is(err, ErrCancelled) {
			err = cancelled(ctx)
		}
		r.emit(tctx, session.StageCancelled, "cancelled", events.StatusCancelled, Failure{Stage: stage, Error: err.Error()})
		r.logger.Printf("run=%s cancelled during %s", r.id, stage)
		return r.result(OutcomeCancelled, err), err
	}

	var rerr *RunError
	if !errors.As(err, &rerr) {
		rerr = &RunError{Stage: r.state.Stage(), Err: err}
		err = rerr
	}
	_ = r.state.SetStage(session.StageFailed)
	res := r.result(OutcomeFailed, err)
	r.emit(tctx, session.StageFailed, "failed", events.StatusFailed, Failure{
		Stage:    rerr.Stage,
		Role:     rerr.Role,
		Attempts: rerr.Attempts,
		Error:    rerr.Err.Error(),
		Snapshot: &res.Snapshot,
	})
	r.logger.Printf("run=%s failed: %v", r.id, err)
	return res, err
}

func (r *run) result(outcome Outcome, err error) *Result {
	res := &Result{
		RunID:      r.id,
		Outcome:    outcome,
		Iterations: r.state.Iteration(),
		Findings:   r.state.Findings(),
		Snapshot:   r.state.Snapshot(),
		Err:        err,
	}
	if o, ok := r.state.Outline(); ok {
		res.Outline = &o
	}
	if outcome == OutcomeAccepted || outcome == OutcomeBudgetExhausted {
		if d, s, ok := r.state.Best(); ok {
			res.Draft, res.Score = &d, &s
		}
	}
	return res
}

// emit assigns the next sequence number and delivers the event. Delivery
// happens under the lock so concurrent research emits stay ordered. Sink
// errors are logged and otherwise ignored.
func (r *run) emit(ctx context.Context, stage session.Stage, label string, status events.Status, payload any) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.seq++
	ev := events.Event{
		RunID:   r.id,
		Seq:     r.seq,
		Stage:   string(stage),
		Label:   label,
		Status:  status,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	if err := r.emitter.Emit(ctx, ev); err != nil {
		r.logger.Printf("run=%s emit #%d failed: %v", r.id, ev.Seq, err)
	}
}

// emitStageError reports a failed step unless the run was cancelled; the
// terminal event covers that case.
func (r *run) emitStageError(ctx context.Context, stage session.Stage, label string, err error) {
	if errors.Is(err, ErrCancelled) {
		return
	}
	r.emit(context.WithoutCancel(ctx), stage, label, events.StatusFailed, Failure{Stage: stage, Error: err.Error()})
}
