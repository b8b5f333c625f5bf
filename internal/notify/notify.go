package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Darsh20009/youspeak-sub000/internal/metrics"
	"github.com/Darsh20009/youspeak-sub000/internal/protocol"
)

// Channel is the Redis pub/sub channel shared by every instance.
const Channel = "coordinator:notifications"

// Deliverer hands a message to an identity's live local connection.
type Deliverer interface {
	Deliver(identityID string, msg protocol.Message) bool
}

// Notification is an out-of-band message for one identity.
type Notification struct {
	UserID string          `json:"userId"`
	Kind   string          `json:"kind"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type event struct {
	InstanceID string `json:"instanceId"`
	CreatedAt  int64  `json:"createdAt"`
	Notification
}

// Fanout delivers notifications locally and, when Redis is configured, to
// every other instance.
type Fanout struct {
	local      Deliverer
	rdb        *redis.Client
	instanceID string
	now        func() time.Time

	readyOnce sync.Once
	ready     chan struct{}
}

// New returns a fan-out. rdb may be nil for a single instance.
func New(local Deliverer, rdb *redis.Client) *Fanout {
	f := &Fanout{
		local:      local,
		rdb:        rdb,
		instanceID: uuid.New().String(),
		now:        time.Now,
		ready:      make(chan struct{}),
	}
	slog.Info("notification fan-out initialized", "instance_id", f.instanceID, "redis", rdb != nil)
	return f
}

// InstanceID identifies this process on the shared channel.
func (f *Fanout) InstanceID() string { return f.instanceID }

// Ready is closed once Run has subscribed, or immediately without Redis.
func (f *Fanout) Ready() <-chan struct{} { return f.ready }

// Publish delivers n to a local connection if there is one and then
// publishes it for the other instances. It reports local delivery.
func (f *Fanout) Publish(ctx context.Context, n Notification) (bool, error) {
	n.UserID = strings.TrimSpace(n.UserID)
	n.Kind = strings.TrimSpace(n.Kind)
	if n.UserID == "" {
		return false, protocol.Validation("userId is required")
	}
	if n.Kind == "" {
		return false, protocol.Validation("kind is required")
	}

	ev := event{InstanceID: f.instanceID, CreatedAt: f.now().UnixMilli(), Notification: n}
	delivered := f.deliver(ev, "local")

	if f.rdb == nil {
		return delivered, nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return delivered, fmt.Errorf("encode notification: %w", err)
	}
	if err := f.rdb.Publish(ctx, Channel, data).Err(); err != nil {
		return delivered, fmt.Errorf("publish notification: %w", err)
	}
	return delivered, nil
}

func (f *Fanout) deliver(ev event, origin string) bool {
	msg := protocol.NewMessage(protocol.TypeNotification, protocol.NotificationPayload{
		Kind:      ev.Kind,
		Data:      ev.Data,
		CreatedAt: ev.CreatedAt,
	})
	msg.UserID = ev.UserID
	msg.Timestamp = ev.CreatedAt

	delivered := f.local.Deliver(ev.UserID, msg)
	outcome := "offline"
	if delivered {
		outcome = "delivered"
	}
	metrics.Notification(origin, outcome)
	slog.Debug("notification handled", "user_id", ev.UserID, "kind", ev.Kind, "origin", origin, "delivered", delivered)
	return delivered
}

// Run consumes notifications published by other instances until ctx is
// done. Without Redis it returns immediately.
func (f *Fanout) Run(ctx context.Context) error {
	if f.rdb == nil {
		f.markReady()
		return nil
	}

	pubsub := f.rdb.Subscribe(ctx, Channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", Channel, err)
	}
	f.markReady()
	slog.Info("subscribed to notifications", "channel", Channel, "instance_id", f.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping notification subscriber", "instance_id", f.instanceID)
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev event
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				slog.Warn("discarding malformed notification", "err", err)
				continue
			}
			if ev.InstanceID == f.instanceID {
				continue
			}
			f.deliver(ev, "remote")
		}
	}
}

func (f *Fanout) markReady() {
	f.readyOnce.Do(func() { close(f.ready) })
}
