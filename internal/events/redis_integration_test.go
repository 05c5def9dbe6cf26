package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestStreamEmitterRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = client.Close() }()

	s := NewStreamEmitter(client, "test", WithMaxLenApprox(1000), WithTimeout(5*time.Second))
	for i, stage := range []string{"PLANNING", "RESEARCHING", "DONE"} {
		e := ev("run-1", int64(i+1), stage, StatusCompleted)
		e.Payload = map[string]any{"n": i}
		if err := s.Emit(ctx, e); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}

	got, err := s.Read(ctx, "run-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d events", len(got))
	}
	for i, e := range got {
		if e.Seq != int64(i+1) {
			t.Fatalf("event %d has seq %d", i, e.Seq)
		}
	}
	if !got[2].Terminal() {
		t.Fatalf("last event should be terminal")
	}
	if err := s.Emit(ctx, Event{}); err == nil {
		t.Fatalf("expected error for missing run id")
	}

	var followed []int64
	err = s.Follow(ctx, "run-1", time.Second, func(e Event) error {
		followed = append(followed, e.Seq)
		return nil
	})
	if err != nil || len(followed) != 3 {
		t.Fatalf("Follow finished run = %v, %v", followed, err)
	}

	// live follow: the terminal event arrives after Follow starts blocking
	if err := s.Emit(ctx, ev("run-2", 1, "PLANNING", StatusStarted)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	done := make(chan error, 1)
	var live []string
	go func() {
		done <- s.Follow(ctx, "run-2", 200*time.Millisecond, func(e Event) error {
			live = append(live, e.Stage)
			return nil
		})
	}()
	time.Sleep(300 * time.Millisecond)
	if err := s.Emit(ctx, ev("run-2", 2, "DONE", StatusCompleted)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	select {
	case err := <-done:
		if err != nil || len(live) != 2 || live[1] != "DONE" {
			t.Fatalf("live follow = %v, %v", live, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Follow did not return after terminal event")
	}

	cctx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	if err := s.Follow(cctx, "run-3", 100*time.Millisecond, func(Event) error { return nil }); err == nil {
		t.Fatalf("expected context error following an idle stream")
	}
}
