// Package realtime pushes messages to browsers over STOMP on WebSocket,
// either raw or wrapped in the SockJS websocket transport.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	TopicSystem = "/topic/system"

	userChannelPrefix = "ws:user:"
	systemChannel     = "ws:system"
	channelPattern    = "ws:*"
)

// UserDestination is the per-user destination for a message kind.
func UserDestination(userID int64, kind string) string {
	return fmt.Sprintf("/user/%d/%s", userID, kind)
}

// envelope is what travels over Redis between instances.
type envelope struct {
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body"`
}

// Sink receives deliveries for the subscriptions it registered.
type Sink interface {
	Deliver(destination, subscriptionID string, body []byte)
}

type subscription struct {
	sink Sink
	id   string
}

// Broker fans published payloads out to local subscriptions. With Redis
// every instance receives every publish; without it delivery is local.
type Broker struct {
	rdb *redis.Client

	mu   sync.RWMutex
	subs map[string]map[subscription]struct{}
}

func NewBroker(rdb *redis.Client) *Broker {
	return &Broker{rdb: rdb, subs: make(map[string]map[subscription]struct{})}
}

func (b *Broker) Subscribe(sink Sink, id, destination string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[destination]
	if !ok {
		set = make(map[subscription]struct{})
		b.subs[destination] = set
	}
	set[subscription{sink: sink, id: id}] = struct{}{}
}

func (b *Broker) Unsubscribe(sink Sink, id, destination string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[destination]; ok {
		delete(set, subscription{sink: sink, id: id})
		if len(set) == 0 {
			delete(b.subs, destination)
		}
	}
}

// RemoveSink drops every subscription of a closed session.
func (b *Broker) RemoveSink(sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for dest, set := range b.subs {
		for sub := range set {
			if sub.sink == sink {
				delete(set, sub)
			}
		}
		if len(set) == 0 {
			delete(b.subs, dest)
		}
	}
}

// PublishToUser sends payload to /user/{userID}/{kind}.
func (b *Broker) PublishToUser(ctx context.Context, userID int64, kind string, payload any) error {
	return b.publish(ctx, userChannelPrefix+strconv.FormatInt(userID, 10), UserDestination(userID, kind), payload)
}

// PublishSystem sends payload to /topic/system and every /user/{id}/system.
func (b *Broker) PublishSystem(ctx context.Context, payload any) error {
	return b.publish(ctx, systemChannel, TopicSystem, payload)
}

func (b *Broker) publish(ctx context.Context, channel, destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := envelope{Destination: destination, Body: body}
	if b.rdb == nil {
		b.dispatch(env)
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channel, data).Err()
}

func (b *Broker) dispatch(env envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	deliver := func(dest string) {
		for sub := range b.subs[dest] {
			sub.sink.Deliver(dest, sub.id, env.Body)
			metrics.WSDelivered()
		}
	}

	if env.Destination != TopicSystem {
		deliver(env.Destination)
		return
	}
	for dest := range b.subs {
		if dest == TopicSystem || (strings.HasPrefix(dest, "/user/") && strings.HasSuffix(dest, "/system")) {
			deliver(dest)
		}
	}
}

// Run consumes ws:* until ctx ends, reconnecting with backoff. It returns
// at once when the broker has no Redis client.
func (b *Broker) Run(ctx context.Context) {
	if b.rdb == nil {
		zap.S().Warn("realtime: Redis not configured; delivering locally only")
		return
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if b.consume(ctx) {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, 30*time.Second)
	}
}

// consume reads one pubsub session and reports whether it received
// anything before failing.
func (b *Broker) consume(ctx context.Context) bool {
	pubsub := b.rdb.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	zap.S().Infof("✅ Realtime Redis subscriber started (pattern: %s)", channelPattern)
	received := false
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				zap.S().Warnf("realtime: Redis subscriber error: %v", err)
			}
			return received
		}
		received = true

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			zap.S().Warnf("realtime: bad envelope on %s: %v", msg.Channel, err)
			continue
		}
		b.dispatch(env)
	}
}
