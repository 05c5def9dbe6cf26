package runs

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/events"
	"github.com/mohammad-safakhou/proposer/internal/orchestrator"
	"github.com/mohammad-safakhou/proposer/internal/proposal"
)

var (
	ErrNotFound    = errors.New("run not found")
	ErrFinished    = errors.New("run already finished")
	ErrTooManyRuns = errors.New("too many active runs")
)

// Runner executes one request; *orchestrator.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, req proposal.Request, opts ...orchestrator.RunOption) (*orchestrator.Result, error)
}

// Status is the coarse lifecycle of a run.
type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// Run is the externally visible view of a run.
type Run struct {
	ID         string                      `json:"id"`
	Request    proposal.Request            `json:"request"`
	Status     Status                      `json:"status"`
	Stage      string                      `json:"stage"`
	Outcome    orchestrator.Outcome        `json:"outcome,omitempty"`
	Error      string                      `json:"error,omitempty"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt *time.Time                  `json:"finished_at,omitempty"`
	Events     int64                       `json:"events"`
	Config     *config.OrchestrationConfig `json:"config,omitempty"`
	Result     *orchestrator.Result        `json:"-"`
}

type entry struct {
	run    Run
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager starts runs in the background and keeps them queryable in memory
// until the retention period after they finish.
type Manager struct {
	runner    Runner
	broker    *events.Broker
	retention time.Duration
	maxActive int
	logger    *log.Logger
	archive   events.Emitter

	mu   sync.RWMutex
	runs map[string]*entry
	wg   sync.WaitGroup
}

// Option customizes a Manager.
type Option func(*Manager)

// WithArchive also writes events the manager emits on a run's behalf to e,
// so readers of the durable stream see every run end.
func WithArchive(e events.Emitter) Option {
	return func(m *Manager) {
		if e != nil {
			m.archive = e
		}
	}
}

func NewManager(runner Runner, broker *events.Broker, cfg config.RunsConfig, logger *log.Logger, opts ...Option) *Manager {
	if broker == nil {
		broker = events.NewBroker(0)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[RUNS] ", log.LstdFlags)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	m := &Manager{
		runner:    runner,
		broker:    broker,
		retention: cfg.Retention,
		maxActive: cfg.MaxActive,
		logger:    logger,
		archive:   events.Discard,
		runs:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches req in the background and returns its run ID. cfg, when
// non-nil, replaces the orchestrator's defaults for this run.
func (m *Manager) Start(req proposal.Request, cfg *config.OrchestrationConfig) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{
		run: Run{
			ID:        req.ID,
			Request:   req,
			Status:    StatusRunning,
			Stage:     "PLANNING",
			StartedAt: time.Now().UTC(),
			Config:    cfg,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if _, dup := m.runs[req.ID]; dup {
		m.mu.Unlock()
		cancel()
		return "", errors.New("run id already in use")
	}
	if m.maxActive > 0 && m.active() >= m.maxActive {
		m.mu.Unlock()
		cancel()
		return "", ErrTooManyRuns
	}
	m.runs[req.ID] = e
	m.mu.Unlock()

	opts := []orchestrator.RunOption{orchestrator.WithRunEmitter(events.Multi(m.broker, m.tracker(req.ID)))}
	if cfg != nil {
		opts = append(opts, orchestrator.WithConfig(*cfg))
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(e.done)
		defer cancel()
		res, err := m.runner.Run(ctx, req, opts...)
		m.complete(req.ID, res, err)
	}()
	m.logger.Printf("run=%s started", req.ID)
	return req.ID, nil
}

// active counts running runs. Callers hold m.mu.
func (m *Manager) active() int {
	n := 0
	for _, e := range m.runs {
		if e.run.Status == StatusRunning {
			n++
		}
	}
	return n
}

// tracker mirrors the latest stage of a run from its events.
func (m *Manager) tracker(id string) events.Emitter {
	return events.Func(func(_ context.Context, ev events.Event) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if e, ok := m.runs[id]; ok {
			e.run.Stage = ev.Stage
			e.run.Events = ev.Seq
		}
		return nil
	})
}

func (m *Manager) complete(id string, res *orchestrator.Result, err error) {
	now := time.Now().UTC()
	m.mu.Lock()
	e, ok := m.runs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.run.Status = StatusFinished
	e.run.FinishedAt = &now
	e.run.Result = res
	var orphan *events.Event
	if res != nil {
		e.run.Outcome = res.Outcome
	} else {
		// the runner never reached the state machine, so no terminal event exists
		e.run.Outcome = orchestrator.OutcomeFailed
		e.run.Stage = "FAILED"
		e.run.Events++
		orphan = &events.Event{RunID: id, Seq: e.run.Events, Stage: "FAILED", Label: "failed", Status: events.StatusFailed, At: now}
	}
	if err != nil {
		e.run.Error = err.Error()
		if orphan != nil {
			orphan.Payload = orchestrator.Failure{Error: err.Error()}
		}
	}
	outcome := e.run.Outcome
	m.mu.Unlock()

	if orphan != nil {
		if err := events.Multi(m.broker, m.archive).Emit(context.Background(), *orphan); err != nil {
			m.logger.Printf("run=%s terminal event not delivered: %v", id, err)
		}
	}
	if err != nil {
		m.logger.Printf("run=%s finished %s: %v", id, outcome, err)
		return
	}
	m.logger.Printf("run=%s finished %s", id, outcome)
}

// Get returns a copy of the run.
func (m *Manager) Get(id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return e.run, nil
}

// List returns every known run, newest first.
func (m *Manager) List() []Run {
	m.mu.RLock()
	out := make([]Run, 0, len(m.runs))
	for _, e := range m.runs {
		out = append(out, e.run)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Cancel stops a running run. The run finishes asynchronously.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	e, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	select {
	case <-e.done:
		return ErrFinished
	default:
	}
	e.cancel()
	m.logger.Printf("run=%s cancel requested", id)
	return nil
}

// Wait blocks until the run finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (Run, error) {
	m.mu.RLock()
	e, ok := m.runs[id]
	m.mu.RUnlock()
	if !ok {
		return Run{}, ErrNotFound
	}
	select {
	case <-e.done:
		return m.Get(id)
	case <-ctx.Done():
		return Run{}, ctx.Err()
	}
}

// Subscribe returns the run's events so far and a channel of later ones.
// The lookup and the broker subscription happen under one lock so a
// concurrent Sweep either removes the run first or closes the channel.
func (m *Manager) Subscribe(id string) ([]events.Event, <-chan events.Event, func(), error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.runs[id]; !ok {
		return nil, nil, nil, ErrNotFound
	}
	history, live, cancel := m.broker.Subscribe(id)
	return history, live, cancel, nil
}

// Sweep drops finished runs older than the retention period and returns how
// many were removed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, e := range m.runs {
		if e.run.FinishedAt != nil && now.Sub(*e.run.FinishedAt) > m.retention {
			delete(m.runs, id)
			m.broker.Forget(id)
			removed++
		}
	}
	return removed
}

// StartJanitor sweeps expired runs until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := m.Sweep(now.UTC()); n > 0 {
					m.logger.Printf("swept %d finished run(s)", n)
				}
			}
		}
	}()
}

// Shutdown cancels every running run and waits for them to finish or ctx
// to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, e := range m.runs {
		e.cancel()
	}
	m.mu.RUnlock()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
