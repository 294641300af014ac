package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrVersionConflict      = errors.New("order collection was modified by another writer")
	ErrCorruptSnapshot      = errors.New("persisted order collection is corrupt")
	ErrDuplicateOrderNumber = errors.New("order with this order number already exists")
)

// Snapshot is the whole persisted collection plus its version token.
// Version 0 means the collection has never been written.
type Snapshot struct {
	Orders  []Order
	Version int64
}

// Storage persists the full order collection atomically.
type Storage interface {
	// Load returns ErrCorruptSnapshot (with the current Version still set) when
	// any persisted record cannot be decoded.
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the collection if the stored version equals expected and
	// returns the new version; otherwise it returns ErrVersionConflict.
	Save(ctx context.Context, orders []Order, expected int64) (int64, error)
}

// EncodeOrder serialises one order the way it is persisted.
func EncodeOrder(o *Order) ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to encode order %s: %w", o.ID, err)
	}
	return data, nil
}

// DecodeOrder parses a persisted order. Dates must be RFC 3339 and the
// required timestamps must be present.
func DecodeOrder(data []byte) (Order, error) {
	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if err := checkDecoded(&o); err != nil {
		return Order{}, err
	}
	return o, nil
}

func checkDecoded(o *Order) error {
	switch {
	case o.ID.IsNil():
		return fmt.Errorf("%w: order without id", ErrCorruptSnapshot)
	case o.CreatedAt.IsZero():
		return fmt.Errorf("%w: order %s has no createdAt", ErrCorruptSnapshot, o.ID)
	case o.UpdatedAt.IsZero():
		return fmt.Errorf("%w: order %s has no updatedAt", ErrCorruptSnapshot, o.ID)
	case len(o.StatusHistory) == 0:
		return fmt.Errorf("%w: order %s has no status history", ErrCorruptSnapshot, o.ID)
	}
	for _, h := range o.StatusHistory {
		if h.Timestamp.IsZero() {
			return fmt.Errorf("%w: order %s has a history entry without timestamp", ErrCorruptSnapshot, o.ID)
		}
	}
	return nil
}

// MemoryStorage keeps the encoded collection in process memory.
type MemoryStorage struct {
	mu      sync.Mutex
	docs    [][]byte
	version int64
	saveErr error
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{Version: m.version, Orders: make([]Order, 0, len(m.docs))}
	for _, doc := range m.docs {
		o, err := DecodeOrder(doc)
		if err != nil {
			return Snapshot{Version: m.version}, err
		}
		snap.Orders = append(snap.Orders, o)
	}
	return snap, nil
}

func (m *MemoryStorage) Save(_ context.Context, orders []Order, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return 0, m.saveErr
	}
	if m.version != expected {
		return 0, fmt.Errorf("%w: expected version %d, found %d", ErrVersionConflict, expected, m.version)
	}

	docs := make([][]byte, 0, len(orders))
	numbers := make(map[string]bool, len(orders))
	for i := range orders {
		if numbers[orders[i].OrderNumber] {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, orders[i].OrderNumber)
		}
		numbers[orders[i].OrderNumber] = true

		doc, err := EncodeOrder(&orders[i])
		if err != nil {
			return 0, err
		}
		docs = append(docs, doc)
	}

	m.docs = docs
	m.version++
	return m.version, nil
}

// FailSaves makes every following Save return err until called with nil.
func (m *MemoryStorage) FailSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// PutRaw replaces the stored documents without validation.
func (m *MemoryStorage) PutRaw(docs ...[]byte) {
	m.mu.Lock()
	m.docs = docs
	m.version++
	m.mu.Unlock()
}

func (m *MemoryStorage) Version() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}
