package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateOrderID = errors.New("order with this ID already exists")
	// ErrPersistFailed is returned alongside a valid result: the change is
	// visible in memory but was not written to storage.
	ErrPersistFailed = errors.New("failed to persist order changes")
)

// Repository is the order store contract used by the service.
type Repository interface {
	LoadAll(ctx context.Context) ([]Order, error)
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	Create(ctx context.Context, o Order) (Order, error)
	Patch(ctx context.Context, id uuid.UUID, p OrderPatch) (Order, error)
	Delete(ctx context.Context, id uuid.UUID) error
	BulkPatch(ctx context.Context, ids []uuid.UUID, p OrderPatch) ([]Order, error)
}

type StoreOptions struct {
	Engine     *Engine
	Notifier   Notifier
	Seeder     *Seeder
	SeedCount  int
	MaxRetries uint64
	Clock      func() time.Time
	// NewBackOff builds the retry schedule for one persistence attempt.
	NewBackOff func() backoff.BackOff
}

// Store owns the canonical order collection. Every mutation builds the next
// snapshot from a copy of the current one and saves it whole.
type Store struct {
	storage    Storage
	engine     *Engine
	notifier   Notifier
	seeder     *Seeder
	seedCount  int
	maxRetries uint64
	clock      func() time.Time
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	loaded  bool
	dirty   bool
	orders  []Order
	version int64
	// pending holds events raised under mu; they are delivered once mu is released.
	pending []ChangeEvent
}

var _ Repository = (*Store)(nil)

func NewStore(storage Storage, opts StoreOptions) *Store {
	s := &Store{
		storage:    storage,
		engine:     opts.Engine,
		notifier:   opts.Notifier,
		seeder:     opts.Seeder,
		seedCount:  opts.SeedCount,
		maxRetries: opts.MaxRetries,
		clock:      opts.Clock,
		newBackOff: opts.NewBackOff,
	}
	if s.engine == nil {
		s.engine = NewEngine(TransitionPermissive)
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	if s.newBackOff == nil {
		s.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		}
	}
	return s
}

// Version is the last version confirmed by storage.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// LoadAll returns every order, newest first.
func (s *Store) LoadAll(ctx context.Context) ([]Order, error) {
	s.mu.Lock()
	defer s.unlockAndNotify(ctx)

	if s.loaded && !s.dirty {
		s.refreshLocked(ctx)
	}
	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	out := cloneOrders(s.orders)
	if s.dirty {
		return out, fmt.Errorf("%w: collection has unsaved changes", ErrPersistFailed)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	s.mu.Lock()
	defer s.unlockAndNotify(ctx)

	if err := s.ensureLoadedLocked(ctx); err != nil {
		return Order{}, err
	}
	i := indexOf(s.orders, id)
	if i < 0 {
		return Order{}, ErrOrderNotFound
	}
	return s.orders[i].Clone(), nil
}

// Create assigns identity and timestamps and records the creation history entry.
func (s *Store) Create(ctx context.Context, o Order) (Order, error) {
	if o.ID.IsNil() {
		id, err := uuid.NewV4()
		if err != nil {
			return Order{}, fmt.Errorf("store: failed to generate order ID: %w", err)
		}
		o.ID = id
	}
	generateNumber := o.OrderNumber == ""

	next, err := s.mutate(ctx, ChangeCreated, func(orders []Order, now time.Time) ([]Order, []uuid.UUID, error) {
		if indexOf(orders, o.ID) >= 0 {
			return nil, nil, ErrDuplicateOrderID
		}
		c := o.Clone()
		if err := prepareNew(&c, now); err != nil {
			return nil, nil, err
		}
		if generateNumber {
			c.OrderNumber = NewOrderNumber(now)
			for hasOrderNumber(orders, c.OrderNumber) {
				c.OrderNumber = NewOrderNumber(now)
			}
		} else if hasOrderNumber(orders, c.OrderNumber) {
			return nil, nil, fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, c.OrderNumber)
		}
		return insertNewest(orders, c), []uuid.UUID{c.ID}, nil
	})
	if next == nil {
		return Order{}, err
	}
	return next[indexOf(next, o.ID)].Clone(), err
}

// Patch merges p into the order with the given id.
func (s *Store) Patch(ctx context.Context, id uuid.UUID, p OrderPatch) (Order, error) {
	next, err := s.mutate(ctx, ChangeUpdated, func(orders []Order, now time.Time) ([]Order, []uuid.UUID, error) {
		i := indexOf(orders, id)
		if i < 0 {
			return nil, nil, ErrOrderNotFound
		}
		if err := p.Apply(&orders[i], s.engine, now); err != nil {
			return nil, nil, err
		}
		return orders, []uuid.UUID{id}, nil
	})
	if next == nil {
		return Order{}, err
	}
	return next[indexOf(next, id)].Clone(), err
}

// Delete removes the order for good. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.mutate(ctx, ChangeDeleted, func(orders []Order, _ time.Time) ([]Order, []uuid.UUID, error) {
		i := indexOf(orders, id)
		if i < 0 {
			return nil, nil, nil
		}
		return append(orders[:i], orders[i+1:]...), []uuid.UUID{id}, nil
	})
	return err
}

// BulkPatch applies p to every listed order; ids not in the collection are skipped.
// If p fails for any order nothing is applied.
func (s *Store) BulkPatch(ctx context.Context, ids []uuid.UUID, p OrderPatch) ([]Order, error) {
	var touched []uuid.UUID
	next, err := s.mutate(ctx, ChangeBulkUpdated, func(orders []Order, now time.Time) ([]Order, []uuid.UUID, error) {
		touched = touched[:0]
		seen := make(map[uuid.UUID]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			i := indexOf(orders, id)
			if i < 0 {
				continue
			}
			if err := p.Apply(&orders[i], s.engine, now); err != nil {
				return nil, nil, fmt.Errorf("order %s: %w", id, err)
			}
			touched = append(touched, id)
		}
		if len(touched) == 0 {
			return nil, nil, nil
		}
		return orders, touched, nil
	})
	if next == nil {
		return []Order{}, err
	}
	out := make([]Order, 0, len(touched))
	for _, id := range touched {
		out = append(out, next[indexOf(next, id)].Clone())
	}
	return out, err
}

// mutation computes the next collection from a private copy. Returning a nil
// collection and nil error means there is nothing to change.
type mutation func(orders []Order, now time.Time) ([]Order, []uuid.UUID, error)

// mutate applies fn and persists the result. It returns the collection that is
// now canonical, or nil when nothing changed or fn failed.
func (s *Store) mutate(ctx context.Context, ct ChangeType, fn mutation) ([]Order, error) {
	s.mu.Lock()
	defer s.unlockAndNotify(ctx)

	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	now := s.clock()
	next, ids, err := fn(cloneOrders(s.orders), now)
	if err != nil || next == nil {
		return nil, err
	}

	var businessErr error
	op := func() error {
		version, err := s.storage.Save(ctx, next, s.version)
		if err == nil {
			s.version = version
			return nil
		}
		switch {
		case errors.Is(err, ErrDuplicateOrderNumber):
			businessErr = err
			return backoff.Permanent(err)
		case errors.Is(err, ErrVersionConflict):
			log.Warn().Err(err).Str("change_type", string(ct)).Msg("store: concurrent write detected, reloading")
			snap, loadErr := s.storage.Load(ctx)
			if loadErr != nil {
				return loadErr
			}
			if s.dirty {
				log.Warn().Int64("stored_version", snap.Version).Int("unsaved_orders", len(s.orders)).Msg("store: discarding unsaved in-memory changes, storage was written by another writer")
			}
			s.orders = SortOrders(snap.Orders, SortByCreatedAt, SortDesc)
			s.version = snap.Version
			s.dirty = false
			retried, retriedIDs, fnErr := fn(cloneOrders(s.orders), now)
			if fnErr != nil {
				businessErr = fnErr
				return backoff.Permanent(fnErr)
			}
			if retried == nil {
				next, ids = nil, nil
				return nil
			}
			next, ids = retried, retriedIDs
			return err
		}
		return err
	}

	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx))
	if businessErr != nil {
		return nil, businessErr
	}
	if next == nil {
		return nil, nil
	}

	s.orders = next
	ev := ChangeEvent{Type: ct, OrderIDs: ids, Version: s.version, At: now}
	if err != nil {
		s.dirty = true
		log.Error().Err(err).Str("change_type", string(ct)).Int("orders", len(ids)).Msg("store: failed to persist order collection, keeping in-memory state")
		s.pending = append(s.pending, ev)
		return cloneOrders(next), fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	s.dirty = false
	s.pending = append(s.pending, ev)
	return cloneOrders(next), nil
}

// unlockAndNotify releases mu and then delivers the events raised while it was
// held, so subscribers may call back into the store.
func (s *Store) unlockAndNotify(ctx context.Context) {
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range events {
		s.notifier.Notify(ctx, ev)
	}
}

func (s *Store) ensureLoadedLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	snap, err := s.storage.Load(ctx)
	switch {
	case err == nil && snap.Version > 0:
		s.orders = SortOrders(snap.Orders, SortByCreatedAt, SortDesc)
		s.version = snap.Version
		s.loaded = true
		log.Info().Int("orders", len(s.orders)).Int64("version", s.version).Msg("store: order collection loaded")
		return nil
	case err == nil:
		s.version = snap.Version
	case errors.Is(err, ErrCorruptSnapshot):
		log.Warn().Err(err).Int64("version", snap.Version).Msg("store: discarding corrupt order collection")
		s.version = snap.Version
	default:
		log.Error().Err(err).Msg("store: failed to load order collection")
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	s.seedLocked(ctx)
	s.loaded = true
	return nil
}

// seedLocked fills an uninitialised collection. If another writer initialised
// storage in the meantime, its collection wins.
func (s *Store) seedLocked(ctx context.Context) {
	now := s.clock()
	var seeded []Order
	if s.seeder != nil && s.seedCount > 0 {
		seeded = s.seeder.Seed(s.seedCount, now)
	} else {
		seeded = []Order{}
	}

	adopted := false
	op := func() error {
		version, err := s.storage.Save(ctx, seeded, s.version)
		if err == nil {
			s.version = version
			return nil
		}
		if errors.Is(err, ErrVersionConflict) {
			snap, loadErr := s.storage.Load(ctx)
			if loadErr == nil {
				seeded = snap.Orders
				s.version = snap.Version
				adopted = true
				return nil
			}
			if errors.Is(loadErr, ErrCorruptSnapshot) {
				s.version = snap.Version
			}
			return loadErr
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx))
	s.orders = SortOrders(seeded, SortByCreatedAt, SortDesc)
	if err != nil {
		s.dirty = true
		log.Error().Err(err).Int("orders", len(seeded)).Msg("store: failed to persist seeded orders")
		return
	}
	if adopted {
		log.Info().Int("orders", len(s.orders)).Msg("store: adopted order collection written by another writer")
		return
	}

	ids := make([]uuid.UUID, 0, len(s.orders))
	for i := range s.orders {
		ids = append(ids, s.orders[i].ID)
	}
	log.Info().Int("orders", len(s.orders)).Int64("version", s.version).Msg("store: seeded order collection")
	s.pending = append(s.pending, ChangeEvent{Type: ChangeSeeded, OrderIDs: ids, Version: s.version, At: now})
}

// refreshLocked picks up writes made by other processes. Failures keep the
// in-memory collection.
func (s *Store) refreshLocked(ctx context.Context) {
	snap, err := s.storage.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("store: failed to refresh order collection, serving cached copy")
		return
	}
	if snap.Version == s.version {
		return
	}
	s.orders = SortOrders(snap.Orders, SortByCreatedAt, SortDesc)
	s.version = snap.Version
}

func prepareNew(o *Order, now time.Time) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Status == "" {
		o.Status = StatusPending
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, o.Status)
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	if o.Priority == "" {
		o.Priority = PriorityNormal
	}
	if o.Source == "" {
		o.Source = SourceWebsite
	}
	if !o.PaymentStatus.Valid() || !o.Priority.Valid() || !o.Source.Valid() {
		return fmt.Errorf("%w: unknown payment status, priority or source", ErrValidation)
	}

	if len(o.StatusHistory) == 0 {
		actor := ActorSystem
		if o.Source == SourceAdmin {
			actor = ActorAdmin
		}
		o.StatusHistory = []StatusHistoryEntry{{
			Status:    StatusPending,
			Timestamp: o.CreatedAt,
			UpdatedBy: actor,
			Note:      "Order placed",
		}}
		if o.Status != StatusPending {
			o.StatusHistory = append(o.StatusHistory, StatusHistoryEntry{
				Status:    o.Status,
				Timestamp: o.CreatedAt,
				UpdatedBy: actor,
			})
		}
	}
	if last := o.StatusHistory[len(o.StatusHistory)-1]; last.Status != o.Status {
		return fmt.Errorf("%w: status %s does not match latest history entry %s", ErrValidation, o.Status, last.Status)
	}
	return nil
}

func indexOf(orders []Order, id uuid.UUID) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}

func hasOrderNumber(orders []Order, number string) bool {
	for i := range orders {
		if orders[i].OrderNumber == number {
			return true
		}
	}
	return false
}

// insertNewest keeps the collection ordered by createdAt descending.
func insertNewest(orders []Order, o Order) []Order {
	i := 0
	for i < len(orders) && !orders[i].CreatedAt.Before(o.CreatedAt) {
		i++
	}
	orders = append(orders, Order{})
	copy(orders[i+1:], orders[i:])
	orders[i] = o
	return orders
}
