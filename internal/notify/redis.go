// Package notify carries order change events between processes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

const (
	DefaultChannel      = "orders:changes"
	defaultDialTimeout  = 5 * time.Second
	subscribeConfirmTTL = 5 * time.Second
)

// RedisNotifier publishes change events on a Redis Pub/Sub channel. Every
// process subscribed to the channel sees every event, including its own.
type RedisNotifier struct {
	client     *redis.Client
	ownsClient bool
	channel    string

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

var _ order.Notifier = (*RedisNotifier)(nil)

type subscription struct {
	cancel context.CancelFunc
	pubsub *redis.PubSub
	done   chan struct{}
	// inCallback is set while the receive loop is running the subscriber.
	inCallback atomic.Bool
}

type Option func(*RedisNotifier)

func WithChannel(channel string) Option {
	return func(n *RedisNotifier) {
		if channel != "" {
			n.channel = channel
		}
	}
}

// NewRedisNotifier connects to addr and checks the connection.
func NewRedisNotifier(ctx context.Context, addr string, opts ...Option) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("notify: failed to connect to redis at %s: %w", addr, err)
	}

	n := newRedisNotifier(client, opts)
	n.ownsClient = true
	log.Info().Str("addr", addr).Str("channel", n.channel).Msg("notify: connected to redis")
	return n, nil
}

// NewRedisNotifierWithClient uses an existing client. The caller keeps ownership of it.
func NewRedisNotifierWithClient(client *redis.Client, opts ...Option) *RedisNotifier {
	return newRedisNotifier(client, opts)
}

func newRedisNotifier(client *redis.Client, opts []Option) *RedisNotifier {
	n := &RedisNotifier{
		client:  client,
		channel: DefaultChannel,
		subs:    make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify publishes ev. Delivery is best effort; failures are logged.
func (n *RedisNotifier) Notify(ctx context.Context, ev order.ChangeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("change_type", string(ev.Type)).Msg("notify: failed to encode change event")
		return
	}
	if err := n.client.Publish(ctx, n.channel, data).Err(); err != nil {
		log.Error().Err(err).Str("channel", n.channel).Str("change_type", string(ev.Type)).Msg("notify: failed to publish change event")
		return
	}
	log.Debug().Str("channel", n.channel).Str("change_type", string(ev.Type)).Int64("version", ev.Version).Msg("notify: change event published")
}

// Subscribe starts a receive loop that calls fn for each event until the
// returned function is called.
func (n *RedisNotifier) Subscribe(fn func(order.ChangeEvent)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := n.client.Subscribe(ctx, n.channel)

	confirmCtx, confirmCancel := context.WithTimeout(ctx, subscribeConfirmTTL)
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		log.Warn().Err(err).Str("channel", n.channel).Msg("notify: subscription not confirmed, events may be missed until redis is reachable")
	}
	confirmCancel()

	sub := &subscription{cancel: cancel, pubsub: pubsub, done: make(chan struct{})}
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = sub
	n.mu.Unlock()

	go n.receive(ctx, sub, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			sub.stop()
		})
	}
}

func (n *RedisNotifier) receive(ctx context.Context, sub *subscription, fn func(order.ChangeEvent)) {
	defer close(sub.done)

	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			var ev order.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Error().Err(err).Str("payload", msg.Payload).Msg("notify: failed to decode change event")
				continue
			}
			sub.inCallback.Store(true)
			dispatch(fn, ev)
			sub.inCallback.Store(false)
		}
	}
}

func dispatch(fn func(order.ChangeEvent), ev order.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic_value", r).Str("change_type", string(ev.Type)).Msg("notify: subscriber panicked")
		}
	}()
	fn(ev)
}

// stop ends the receive loop. While a callback is running (possibly the one
// calling stop) it does not wait: the loop exits as soon as the callback returns.
func (s *subscription) stop() {
	s.cancel()
	if err := s.pubsub.Close(); err != nil {
		log.Warn().Err(err).Msg("notify: failed to close subscription")
	}
	if s.inCallback.Load() {
		return
	}
	<-s.done
}

// Close stops all subscriptions and closes the client if this notifier created it.
func (n *RedisNotifier) Close() error {
	n.mu.Lock()
	subs := n.subs
	n.subs = make(map[int]*subscription)
	n.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	if n.ownsClient {
		return n.client.Close()
	}
	return nil
}
