package events

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// Status of a step.
type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Event is one entry of a run's step stream. Seq is dense and starts at 1
// within a run.
type Event struct {
	RunID   string    `json:"run_id"`
	Seq     int64     `json:"seq"`
	Stage   string    `json:"stage"`
	Label   string    `json:"label"`
	Status  Status    `json:"status"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Terminal marks the last event of a run.
func (e Event) Terminal() bool {
	switch e.Stage {
	case "DONE", "FAILED", "CANCELLED":
		return true
	}
	return false
}

// Emitter receives step events. Implementations must be safe for concurrent use;
// the orchestrator already serialises calls per run.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// Func adapts a function to Emitter.
type Func func(ctx context.Context, ev Event) error

func (f Func) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Emitter = Func(func(context.Context, Event) error { return nil })

// Multi fans an event out to every emitter and joins their errors.
func Multi(emitters ...Emitter) Emitter {
	var list []Emitter
	for _, e := range emitters {
		if e != nil {
			list = append(list, e)
		}
	}
	return Func(func(ctx context.Context, ev Event) error {
		var errs []error
		for _, e := range list {
			if err := e.Emit(ctx, ev); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// Recorder keeps every event in memory. Handy for tests and the CLI.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// LogEmitter mirrors events to a logger, one line per event.
type LogEmitter struct {
	Logger *log.Logger
	// Verbose includes the JSON payload.
	Verbose bool
}

func NewLogEmitter(logger *log.Logger, verbose bool) *LogEmitter {
	if logger == nil {
		logger = log.New(log.Writer(), "[STEP] ", log.LstdFlags)
	}
	return &LogEmitter{Logger: logger, Verbose: verbose}
}

func (l *LogEmitter) Emit(_ context.Context, ev Event) error {
	if !l.Verbose || ev.Payload == nil {
		l.Logger.Printf("run=%s #%d %s %s %s", ev.RunID, ev.Seq, ev.Stage, ev.Label, ev.Status)
		return nil
	}
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		raw = []byte(`"<unencodable>"`)
	}
	l.Logger.Printf("run=%s #%d %s %s %s %s", ev.RunID, ev.Seq, ev.Stage, ev.Label, ev.Status, raw)
	return nil
}
