package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoobatch/internal/utils"
)

type EventType string

const (
	EventReply  EventType = "reply"
	EventTyping EventType = "typing"
	EventError  EventType = "error"
)

// Event is the JSON payload published on events:<user>.
type Event struct {
	Type   EventType `json:"type"`
	UserID string    `json:"user_id"`
	Text   string    `json:"text,omitempty"`
	Active *bool     `json:"active,omitempty"`
	Code   string    `json:"code,omitempty"`
	At     time.Time `json:"at"`
}

// RedisNotifier publishes events so that any instance holding the user's
// websocket can forward them.
type RedisNotifier struct {
	rdb    *redis.Client
	prefix string
	log    *logrus.Logger
}

func NewRedisNotifier(rdb *redis.Client, keyPrefix string, log *logrus.Logger) *RedisNotifier {
	if log == nil {
		log = logrus.New()
	}
	return &RedisNotifier{rdb: rdb, prefix: keyPrefix, log: log}
}

func (n *RedisNotifier) Channel(userID string) string { return n.prefix + "events:" + userID }

// Subscribe returns a subscription to the user's events. Close it when done.
func (n *RedisNotifier) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	return n.rdb.Subscribe(ctx, n.Channel(userID))
}

func (n *RedisNotifier) publish(ctx context.Context, op string, ev Event) error {
	ev.At = time.Now().UTC()
	b, err := json.Marshal(ev)
	if err != nil {
		return utils.E(utils.CodeInternal, op, "failed to encode event", err)
	}
	if err := n.rdb.Publish(ctx, n.Channel(ev.UserID), b).Err(); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to publish event", err)
	}
	return nil
}

func (n *RedisNotifier) Deliver(ctx context.Context, userID, result string) error {
	return n.publish(ctx, "RedisNotifier.Deliver", Event{Type: EventReply, UserID: userID, Text: result})
}

func (n *RedisNotifier) SetIndicator(ctx context.Context, userID string, active bool) error {
	return n.publish(ctx, "RedisNotifier.SetIndicator", Event{Type: EventTyping, UserID: userID, Active: &active})
}

func (n *RedisNotifier) NotifyFailure(ctx context.Context, userID string, err error) {
	ev := Event{Type: EventError, UserID: userID, Text: UserText(err), Code: string(utils.CodeOf(err))}
	if perr := n.publish(ctx, "RedisNotifier.NotifyFailure", ev); perr != nil {
		n.log.WithError(perr).WithField("user_id", userID).Warn("failed to publish failure event")
	}
}

// DecodeEvent parses a payload received from a subscription.
func DecodeEvent(payload string) (Event, error) {
	var ev Event
	err := json.Unmarshal([]byte(payload), &ev)
	return ev, err
}
