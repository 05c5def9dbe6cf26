package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/proposer/config"
	"github.com/mohammad-safakhou/proposer/internal/events"
)

// eventsCMD tails a run's step events from Redis, for runs started by a
// server or CLI with redis.enabled.
func eventsCMD(load func() (*config.Config, error)) *cobra.Command {
	var (
		verbose bool
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Follow a run's step events from Redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.Redis.Enabled {
				return errors.New("redis.enabled is false; nothing to follow")
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer func() { _ = rdb.Close() }()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
			stream := events.NewStreamEmitter(rdb, cfg.Redis.StreamPrefix)
			sink := events.NewLogEmitter(log.New(cmd.OutOrStdout(), "[STEP] ", log.LstdFlags), verbose)
			err = followRun(ctx, stream, args[0], wait, func(ev events.Event) error {
				return sink.Emit(ctx, ev)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print payloads")
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "give up when the run has no events after this long (0 waits forever)")
	return cmd
}

type follower interface {
	Follow(ctx context.Context, runID string, block time.Duration, fn func(events.Event) error) error
}

var errNoEvents = errors.New("no events")

// followRun follows runID and fails when no event arrives within wait.
func followRun(ctx context.Context, f follower, runID string, wait time.Duration, fn func(events.Event) error) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var (
		mu   sync.Mutex
		seen bool
	)
	if wait > 0 {
		timer := time.AfterFunc(wait, func() {
			mu.Lock()
			defer mu.Unlock()
			if !seen {
				cancel(errNoEvents)
			}
		})
		defer timer.Stop()
	}
	block := 5 * time.Second
	if wait > 0 && wait < block {
		block = wait
	}
	err := f.Follow(ctx, runID, block, func(ev events.Event) error {
		mu.Lock()
		seen = true
		mu.Unlock()
		return fn(ev)
	})
	if errors.Is(context.Cause(ctx), errNoEvents) {
		return fmt.Errorf("run %s: no events within %s", runID, wait)
	}
	return err
}
