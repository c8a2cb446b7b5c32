package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans events out through a redis pub/sub channel so every server
// instance sees every commit.
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

func NewRedisBus(url, channel string) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("events: parse redis url: %w", err)
	}
	if channel == "" {
		channel = "e2ee-channels:events"
	}
	return &RedisBus{rdb: redis.NewClient(opts), channel: channel}, nil
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, func()) {
	ctx, stop := context.WithCancel(ctx)
	ps := b.rdb.Subscribe(ctx, b.channel)
	out := make(chan Event, defaultBuffer)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			stop()
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		defer cancel()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					slog.Warn("malformed event payload", "error", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
