package events

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"
)

func ev(run string, seq int64, stage string, status Status) Event {
	return Event{RunID: run, Seq: seq, Stage: stage, Label: strings.ToLower(stage), Status: status, At: time.Now()}
}

func TestMultiJoinsErrors(t *testing.T) {
	t.Parallel()
	rec := &Recorder{}
	boom := errors.New("boom")
	m := Multi(rec, nil, Func(func(context.Context, Event) error { return boom }))
	err := m.Emit(context.Background(), ev("r", 1, "PLANNING", StatusStarted))
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(rec.Events()) != 1 {
		t.Fatalf("recorder missed the event")
	}
}

func TestBrokerReplayThenLive(t *testing.T) {
	t.Parallel()
	b := NewBroker(8)
	ctx := context.Background()
	_ = b.Emit(ctx, ev("r1", 1, "PLANNING", StatusStarted))
	_ = b.Emit(ctx, ev("r1", 2, "PLANNING", StatusCompleted))
	_ = b.Emit(ctx, ev("other", 1, "PLANNING", StatusStarted))

	history, live, cancel := b.Subscribe("r1")
	defer cancel()
	if len(history) != 2 || history[1].Seq != 2 {
		t.Fatalf("history = %+v", history)
	}

	_ = b.Emit(ctx, ev("r1", 3, "RESEARCHING", StatusStarted))
	_ = b.Emit(ctx, ev("r1", 4, "DONE", StatusCompleted))
	_ = b.Emit(ctx, ev("r1", 5, "PLANNING", StatusStarted)) // after terminal: ignored

	var got []int64
	for e := range live {
		got = append(got, e.Seq)
	}
	if len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("live = %v", got)
	}
	if h := b.History("r1"); len(h) != 4 {
		t.Fatalf("history after close = %d", len(h))
	}

	_, late, _ := b.Subscribe("r1")
	if _, open := <-late; open {
		t.Fatalf("subscription to finished run should be closed")
	}
}

func TestBrokerDropsSlowSubscriber(t *testing.T) {
	t.Parallel()
	b := NewBroker(1)
	ctx := context.Background()
	_, live, cancel := b.Subscribe("r")
	defer cancel()
	_ = b.Emit(ctx, ev("r", 1, "PLANNING", StatusStarted))
	_ = b.Emit(ctx, ev("r", 2, "PLANNING", StatusCompleted))
	n := 0
	for range live {
		n++
	}
	if n != 1 {
		t.Fatalf("slow subscriber received %d events before drop", n)
	}
}

func TestBrokerCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	b := NewBroker(4)
	_, live, cancel := b.Subscribe("r")
	cancel()
	cancel()
	if _, open := <-live; open {
		t.Fatalf("channel should be closed")
	}
	if err := b.Emit(context.Background(), ev("r", 1, "PLANNING", StatusStarted)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
}

func TestLogEmitter(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	l := NewLogEmitter(log.New(&buf, "", 0), true)
	e := ev("r", 7, "EVALUATING", StatusCompleted)
	e.Payload = map[string]float64{"aggregate": 6.2}
	_ = l.Emit(context.Background(), e)
	out := buf.String()
	if !strings.Contains(out, "run=r #7 EVALUATING") || !strings.Contains(out, `"aggregate":6.2`) {
		t.Fatalf("log line = %q", out)
	}
}
