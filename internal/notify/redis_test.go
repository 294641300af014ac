package notify

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return addr
}

func TestRedisNotifier_PublishSubscribe(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	publisher, err := NewRedisNotifier(ctx, addr, WithChannel("orders:test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = publisher.Close() })

	subscriber, err := NewRedisNotifier(ctx, addr, WithChannel("orders:test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = subscriber.Close() })

	received := make(chan order.ChangeEvent, 1)
	unsubscribe := subscriber.Subscribe(func(ev order.ChangeEvent) {
		received <- ev
	})

	id := uuid.Must(uuid.NewV4())
	sent := order.ChangeEvent{
		Type:     order.ChangeUpdated,
		OrderIDs: []uuid.UUID{id},
		Version:  7,
		At:       time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	publisher.Notify(ctx, sent)

	select {
	case got := <-received:
		assert.Equal(t, sent.Type, got.Type)
		assert.Equal(t, sent.OrderIDs, got.OrderIDs)
		assert.Equal(t, sent.Version, got.Version)
		assert.True(t, sent.At.Equal(got.At))
	case <-time.After(5 * time.Second):
		t.Fatal("change event was not delivered")
	}

	unsubscribe()
	unsubscribe()

	publisher.Notify(ctx, sent)
	select {
	case <-received:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedisNotifier_SubscriberPanicDoesNotStopLoop(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	n, err := NewRedisNotifier(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	calls := make(chan struct{}, 2)
	n.Subscribe(func(order.ChangeEvent) {
		calls <- struct{}{}
		panic("boom")
	})

	n.Notify(ctx, order.ChangeEvent{Type: order.ChangeCreated})
	n.Notify(ctx, order.ChangeEvent{Type: order.ChangeDeleted})

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(5 * time.Second):
			t.Fatalf("expected 2 deliveries, got %d", i)
		}
	}
}

func TestRedisNotifier_UnsubscribeFromCallback(t *testing.T) {
	addr := startRedis(t)
	ctx := context.Background()

	n, err := NewRedisNotifier(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	calls := make(chan struct{}, 2)
	returned := make(chan struct{})
	unsubscribeCh := make(chan func(), 1)
	unsubscribeCh <- n.Subscribe(func(order.ChangeEvent) {
		calls <- struct{}{}
		unsubscribe := <-unsubscribeCh
		unsubscribe()
		close(returned)
	})

	n.Notify(ctx, order.ChangeEvent{Type: order.ChangeCreated})

	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatal("unsubscribe called from the callback did not return")
	}
	<-calls

	n.Notify(ctx, order.ChangeEvent{Type: order.ChangeDeleted})
	select {
	case <-calls:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(200 * time.Millisecond):
	}

	n.mu.Lock()
	assert.Empty(t, n.subs)
	n.mu.Unlock()
}

func TestNewRedisNotifier_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := NewRedisNotifier(ctx, "127.0.0.1:1")
	require.Error(t, err)
	assert.Nil(t, n)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisNotifier_NotifyFailureIsNotFatal(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	n := NewRedisNotifierWithClient(client, WithChannel(""))
	assert.Equal(t, DefaultChannel, n.channel)

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), order.ChangeEvent{Type: order.ChangeCreated})
	})
	require.NoError(t, n.Close())
}
