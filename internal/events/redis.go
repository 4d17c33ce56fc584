package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisMirror copies bus events into a Redis stream so external consumers
// (dashboards, downstream pipelines) can follow investigations without a
// direct process connection. Mirroring is best-effort: a Redis outage never
// stalls the engine.
type RedisMirror struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisMirror wires a mirror against an existing client. maxLen bounds
// the stream with approximate trimming; zero means unbounded.
func NewRedisMirror(client *redis.Client, stream string, maxLen int64, logger *zap.Logger) *RedisMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMirror{client: client, stream: stream, maxLen: maxLen, logger: logger}
}

// Run drains the subscription until ctx is cancelled or the channel closes.
func (m *RedisMirror) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := m.append(ctx, ev); err != nil {
				m.logger.Warn("event mirror append failed",
					zap.String("stream", m.stream),
					zap.String("type", string(ev.Type)),
					zap.Error(err))
			}
		}
	}
}

func (m *RedisMirror) append(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: m.stream,
		Values: map[string]interface{}{
			"type":             string(ev.Type),
			"investigation_id": ev.InvestigationID,
			"payload":          payload,
		},
	}
	if m.maxLen > 0 {
		args.MaxLen = m.maxLen
		args.Approx = true
	}
	if err := m.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", m.stream, err)
	}
	return nil
}
