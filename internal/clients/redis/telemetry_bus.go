package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xuan1250/Transfer2Read-sub004/internal/platform/logger"
	"github.com/xuan1250/Transfer2Read-sub004/internal/telemetry"
)

// TelemetryBus fans conversion events out over a Redis channel so API
// replicas can stream live progress to their own clients.
type TelemetryBus interface {
	Publish(ctx context.Context, ev telemetry.Event) error
	StartForwarder(ctx context.Context, onEvent func(ev telemetry.Event)) error
	Close() error
}

type telemetryBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewTelemetryBus(log *logger.Logger) (TelemetryBus, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("REDIS_CHANNEL"))
	if ch == "" {
		ch = "conversion-events"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &telemetryBus{
		log:     log.With("service", "RedisTelemetryBus"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (b *telemetryBus) Publish(ctx context.Context, ev telemetry.Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis telemetry bus not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// StartForwarder subscribes to the channel and invokes onEvent for every
// decoded message until ctx is cancelled. Undecodable payloads are logged
// and skipped.
func (b *telemetryBus) StartForwarder(ctx context.Context, onEvent func(ev telemetry.Event)) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("redis telemetry bus not initialized")
	}
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		chMsgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-chMsgs:
				if !ok {
					return
				}
				var ev telemetry.Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					b.log.Warn("Dropping undecodable telemetry message", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

func (b *telemetryBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	return b.rdb.Close()
}
