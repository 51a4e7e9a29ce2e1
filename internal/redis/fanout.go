package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Davide9292/v-try.app-sub001/internal/domain"
)

const fanoutPrefix = "fanout:generation:"

func fanoutChannel(ownerID string) string { return fanoutPrefix + ownerID }

// EventPublisher broadcasts a job state-change event to every process that
// holds live connections for the owning user. Delivery is best-effort by
// design; the poll path recovers anything a dropped connection missed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev domain.Event) error
}

type eventPublisher struct {
	client *redis.Client
}

// NewEventPublisher creates a Redis pub/sub backed EventPublisher.
func NewEventPublisher(client *redis.Client) EventPublisher {
	return &eventPublisher{client: client}
}

func (p *eventPublisher) PublishEvent(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, fanoutChannel(ev.OwnerID), data).Err(); err != nil {
		return fmt.Errorf("redis publish event for job %s: %w", ev.JobID, err)
	}
	return nil
}

// SubscribeEvents pattern-subscribes to every owner channel and forwards
// decoded events to deliver until ctx is cancelled. Each gateway instance
// runs one subscription and routes events to its local websocket hub.
func SubscribeEvents(ctx context.Context, client *redis.Client, logger *slog.Logger, deliver func(ownerID string, ev domain.Event)) error {
	sub := client.PSubscribe(ctx, fanoutPrefix+"*")
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("fanout subscription closed")
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Error("malformed fanout event, dropping",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			ownerID := strings.TrimPrefix(msg.Channel, fanoutPrefix)
			ev.OwnerID = ownerID
			deliver(ownerID, ev)
		}
	}
}
