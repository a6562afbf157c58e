package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/soleforge/soleforge-backend/internal/platform/logger"
)

// BuildEvent announces a geometry build outcome to every interested
// instance. Payload stays small: subscribers fetch the asset row
// themselves.
type BuildEvent struct {
	GeometryHash string    `json:"geometry_hash"`
	GenerationID string    `json:"generation_id,omitempty"`
	Status       string    `json:"status"`
	Reused       bool      `json:"reused"`
	At           time.Time `json:"at"`
}

// BuildNotifier fans build completion events out across instances so
// pollers and UI streams learn about finished geometry without hammering
// the asset table.
type BuildNotifier interface {
	PublishBuildEvent(ctx context.Context, ev BuildEvent) error
	StartForwarder(ctx context.Context, onEvent func(ev BuildEvent)) error
	Close() error
}

type redisNotifier struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

// NewBuildNotifier wraps an existing redis client; a nil client yields a
// no-op notifier for single-node runs and tests.
func NewBuildNotifier(baseLog *logger.Logger, rdb *goredis.Client) BuildNotifier {
	if rdb == nil {
		return noopNotifier{}
	}
	ch := strings.TrimSpace(os.Getenv("BUILD_EVENT_CHANNEL"))
	if ch == "" {
		ch = "geometry.builds"
	}
	return &redisNotifier{
		log:     baseLog.With("service", "BuildNotifier"),
		rdb:     rdb,
		channel: ch,
	}
}

func (n *redisNotifier) PublishBuildEvent(ctx context.Context, ev BuildEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, n.channel, raw).Err()
}

func (n *redisNotifier) StartForwarder(ctx context.Context, onEvent func(ev BuildEvent)) error {
	if onEvent == nil {
		return fmt.Errorf("onEvent callback required")
	}

	sub := n.rdb.Subscribe(ctx, n.channel)

	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					_ = sub.Close()
					return
				}
				var ev BuildEvent
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					n.log.Warn("bad build event payload", "error", err)
					continue
				}
				onEvent(ev)
			}
		}
	}()

	return nil
}

func (n *redisNotifier) Close() error { return n.rdb.Close() }

type noopNotifier struct{}

func (noopNotifier) PublishBuildEvent(context.Context, BuildEvent) error { return nil }
func (noopNotifier) StartForwarder(context.Context, func(BuildEvent)) error {
	return nil
}
func (noopNotifier) Close() error { return nil }
