package events

import (
	"context"
	"sync"
)

// Broker keeps each run's event history and fans new events out to live
// subscribers. Late subscribers get the history replayed first.
type Broker struct {
	mu     sync.Mutex
	runs   map[string]*runLog
	buffer int
}

type runLog struct {
	history []Event
	subs    map[chan Event]struct{}
	closed  bool
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{runs: make(map[string]*runLog), buffer: buffer}
}

func (b *Broker) log(runID string) *runLog {
	rl, ok := b.runs[runID]
	if !ok {
		rl = &runLog{subs: make(map[chan Event]struct{})}
		b.runs[runID] = rl
	}
	return rl
}

// Emit records ev and delivers it to subscribers. A subscriber that cannot
// keep up is dropped and its channel closed. A terminal event closes the run.
func (b *Broker) Emit(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl := b.log(ev.RunID)
	if rl.closed {
		return nil
	}
	rl.history = append(rl.history, ev)
	for ch := range rl.subs {
		select {
		case ch <- ev:
		default:
			delete(rl.subs, ch)
			close(ch)
		}
	}
	if ev.Terminal() {
		rl.closed = true
		for ch := range rl.subs {
			delete(rl.subs, ch)
			close(ch)
		}
	}
	return nil
}

// Subscribe returns the events recorded so far and a channel of later ones.
// The channel is closed after the terminal event or when cancel is called.
func (b *Broker) Subscribe(runID string) (history []Event, live <-chan Event, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rl := b.log(runID)
	history = append([]Event(nil), rl.history...)
	ch := make(chan Event, b.buffer)
	if rl.closed {
		close(ch)
		return history, ch, func() {}
	}
	rl.subs[ch] = struct{}{}
	var once sync.Once
	return history, ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := rl.subs[ch]; ok {
				delete(rl.subs, ch)
				close(ch)
			}
		})
	}
}

// History returns a copy of the recorded events for runID.
func (b *Broker) History(runID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rl, ok := b.runs[runID]; ok {
		return append([]Event(nil), rl.history...)
	}
	return nil
}

// Forget drops a run's history.
func (b *Broker) Forget(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rl, ok := b.runs[runID]; ok {
		for ch := range rl.subs {
			delete(rl.subs, ch)
			close(ch)
		}
		rl.closed = true
		delete(b.runs, runID)
	}
}
