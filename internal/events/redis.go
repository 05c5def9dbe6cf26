package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamEmitter appends step events to a Redis stream per run so other
// processes can follow a run with XREAD.
type StreamEmitter struct {
	client  redis.UniversalClient
	prefix  string
	maxLen  int64
	timeout time.Duration
}

// StreamOption configures a StreamEmitter.
type StreamOption func(*StreamEmitter)

// WithMaxLenApprox trims each stream to roughly maxLen entries.
func WithMaxLenApprox(maxLen int64) StreamOption {
	return func(s *StreamEmitter) { s.maxLen = maxLen }
}

// WithTimeout bounds every XADD.
func WithTimeout(d time.Duration) StreamOption {
	return func(s *StreamEmitter) { s.timeout = d }
}

func NewStreamEmitter(client redis.UniversalClient, prefix string, opts ...StreamOption) *StreamEmitter {
	if prefix == "" {
		prefix = "proposer:runs"
	}
	s := &StreamEmitter{client: client, prefix: prefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stream returns the stream key used for runID.
func (s *StreamEmitter) Stream(runID string) string {
	return s.prefix + ":" + runID + ":events"
}

func (s *StreamEmitter) Emit(ctx context.Context, ev Event) error {
	if ev.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	args := &redis.XAddArgs{
		Stream: s.Stream(ev.RunID),
		Values: map[string]interface{}{
			"event_id": uuid.NewString(),
			"seq":      ev.Seq,
			"stage":    ev.Stage,
			"status":   string(ev.Status),
			"event":    raw,
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// Read returns the events stored for runID in order. Payloads come back as
// generic JSON values.
func (s *StreamEmitter) Read(ctx context.Context, runID string) ([]Event, error) {
	msgs, err := s.client.XRange(ctx, s.Stream(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		ev, err := decodeEntry(m)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// Follow hands every event of runID to fn, from the start of the stream,
// and blocks for new entries until the terminal event, ctx is done, or fn
// returns an error.
func (s *StreamEmitter) Follow(ctx context.Context, runID string, block time.Duration, fn func(Event) error) error {
	if block <= 0 {
		block = 5 * time.Second
	}
	stream := s.Stream(runID)
	lastID := "0"
	for {
		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   100,
			Block:   block,
		}).Result()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("xread: %w", err)
		}
		for _, st := range res {
			for _, m := range st.Messages {
				lastID = m.ID
				ev, err := decodeEntry(m)
				if err != nil {
					return err
				}
				if err := fn(ev); err != nil {
					return err
				}
				if ev.Terminal() {
					return nil
				}
			}
		}
	}
}

func decodeEntry(m redis.XMessage) (Event, error) {
	raw, ok := m.Values["event"].(string)
	if !ok {
		return Event{}, fmt.Errorf("stream entry %s has no event field", m.ID)
	}
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return Event{}, fmt.Errorf("decode stream entry %s: %w", m.ID, err)
	}
	return ev, nil
}
