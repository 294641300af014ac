package order

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeUpdated     ChangeType = "updated"
	ChangeDeleted     ChangeType = "deleted"
	ChangeBulkUpdated ChangeType = "bulk_updated"
	ChangeSeeded      ChangeType = "seeded"
)

// ChangeEvent describes one successful mutation of the order collection.
type ChangeEvent struct {
	Type     ChangeType  `json:"type"`
	OrderIDs []uuid.UUID `json:"orderIds"`
	Version  int64       `json:"version"`
	At       time.Time   `json:"at"`
}

// Notifier lets observers react to collection changes.
type Notifier interface {
	Notify(ctx context.Context, ev ChangeEvent)
	Subscribe(fn func(ChangeEvent)) (unsubscribe func())
}

// NopNotifier drops every event and never calls subscribers.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, ChangeEvent) {}

func (NopNotifier) Subscribe(func(ChangeEvent)) func() { return func() {} }

// Bus delivers events synchronously to in-process subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(ChangeEvent)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(ChangeEvent))}
}

func (b *Bus) Subscribe(fn func(ChangeEvent)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Notify(ctx context.Context, ev ChangeEvent) {
	b.mu.RLock()
	subs := make([]func(ChangeEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.RUnlock()

	for _, fn := range subs {
		b.dispatch(fn, ev)
	}
}

// dispatch keeps a panicking subscriber from taking the others down with it.
func (b *Bus) dispatch(fn func(ChangeEvent), ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic_value", r).Str("change_type", string(ev.Type)).Msg("notifier: subscriber panicked")
		}
	}()
	fn(ev)
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
