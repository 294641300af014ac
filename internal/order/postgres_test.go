package order_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vasiliy-maslov/storefront-orders/internal/db"
	"github.com/vasiliy-maslov/storefront-orders/internal/order"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("orders_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, db.ApplyMigrations(strings.Replace(dsn, "postgres://", "pgx5://", 1)))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func resetTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE orders, order_collections`)
	require.NoError(t, err)
}

func TestPostgresStorage(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	storage := order.NewPostgresStorage(pool)

	t.Run("empty collection has version zero", func(t *testing.T) {
		resetTables(t, pool)

		snap, err := storage.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), snap.Version)
		assert.Empty(t, snap.Orders)
	})

	t.Run("round trip keeps every field", func(t *testing.T) {
		resetTables(t, pool)
		older, newer := fullOrder(), fullOrder()
		newer.OrderNumber = "ORD-123457-001"
		newer.CreatedAt = older.CreatedAt.Add(time.Hour)

		v, err := storage.Save(ctx, []order.Order{older, newer}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)

		snap, err := storage.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), snap.Version)
		if diff := cmp.Diff([]order.Order{newer, older}, snap.Orders); diff != "" {
			t.Errorf("loaded orders mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		resetTables(t, pool)
		o := fullOrder()

		_, err := storage.Save(ctx, []order.Order{o}, 0)
		require.NoError(t, err)
		_, err = storage.Save(ctx, []order.Order{o}, 0)
		assert.ErrorIs(t, err, order.ErrVersionConflict)

		v, err := storage.Save(ctx, []order.Order{o}, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(2), v)
	})

	t.Run("duplicate order number rolls back", func(t *testing.T) {
		resetTables(t, pool)
		a, b := fullOrder(), fullOrder()

		_, err := storage.Save(ctx, []order.Order{a, b}, 0)
		assert.ErrorIs(t, err, order.ErrDuplicateOrderNumber)

		snap, err := storage.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), snap.Version)
		assert.Empty(t, snap.Orders)
	})

	t.Run("orders left out of the snapshot are removed", func(t *testing.T) {
		resetTables(t, pool)
		a, b := fullOrder(), fullOrder()
		b.OrderNumber = "ORD-123457-002"

		_, err := storage.Save(ctx, []order.Order{a, b}, 0)
		require.NoError(t, err)
		_, err = storage.Save(ctx, []order.Order{a}, 1)
		require.NoError(t, err)

		snap, err := storage.Load(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Orders, 1)
		assert.Equal(t, a.ID, snap.Orders[0].ID)

		_, err = storage.Save(ctx, []order.Order{}, 2)
		require.NoError(t, err)
		snap, err = storage.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Orders)
		assert.Equal(t, int64(3), snap.Version)
	})

	t.Run("undecodable document reports corruption with version", func(t *testing.T) {
		resetTables(t, pool)
		o := fullOrder()
		_, err := storage.Save(ctx, []order.Order{o}, 0)
		require.NoError(t, err)

		_, err = pool.Exec(ctx, `UPDATE orders SET document = '{"id": 42}'::jsonb`)
		require.NoError(t, err)

		snap, err := storage.Load(ctx)
		assert.ErrorIs(t, err, order.ErrCorruptSnapshot)
		assert.Equal(t, int64(1), snap.Version)
	})

	t.Run("store seeds once across restarts", func(t *testing.T) {
		resetTables(t, pool)
		newStore := func() *order.Store {
			return order.NewStore(storage, order.StoreOptions{
				Seeder:     order.NewSeeder(7, nil, order.DefaultPricingPolicy()),
				SeedCount:  5,
				MaxRetries: 1,
				NewBackOff: func() backoff.BackOff { return &backoff.ZeroBackOff{} },
			})
		}

		first, err := newStore().LoadAll(ctx)
		require.NoError(t, err)
		require.Len(t, first, 5)

		created, err := newStore().Create(ctx, draftOrder(""))
		require.NoError(t, err)

		again, err := newStore().LoadAll(ctx)
		require.NoError(t, err)
		assert.Len(t, again, 6)
		assert.Contains(t, numbers(again), created.OrderNumber)
	})
}
