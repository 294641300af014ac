package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

const collectionName = "orders"

// DB is the subset of *pgxpool.Pool the storage needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStorage keeps one JSONB document per order and a version row for
// the collection as a whole.
type PostgresStorage struct {
	db DB
}

func NewPostgresStorage(db DB) *PostgresStorage {
	return &PostgresStorage{db: db}
}

func (s *PostgresStorage) Load(ctx context.Context) (Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Snapshot{}, fmt.Errorf("storage: failed to begin read transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Warn().Err(rbErr).Msg("storage: failed to close read transaction")
		}
	}()

	var snap Snapshot
	err = tx.QueryRow(ctx, `SELECT version FROM order_collections WHERE name = $1`, collectionName).Scan(&snap.Version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("storage: failed to read collection version: %w", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT document
		FROM orders
		ORDER BY created_at DESC
	`)
	if err != nil {
		return Snapshot{}, fmt.Errorf("storage: failed to query orders: %w", err)
	}
	defer rows.Close()

	snap.Orders = make([]Order, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return Snapshot{}, fmt.Errorf("storage: failed to scan order document: %w", err)
		}
		o, err := DecodeOrder(doc)
		if err != nil {
			return Snapshot{Version: snap.Version}, err
		}
		snap.Orders = append(snap.Orders, o)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("storage: failed iterating orders: %w", err)
	}

	return snap, nil
}

func (s *PostgresStorage) Save(ctx context.Context, orders []Order, expected int64) (version int64, err error) {
	tx, beginErr := s.db.Begin(ctx)
	if beginErr != nil {
		return 0, fmt.Errorf("storage: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("storage: panic recovered during save, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("storage: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("storage: failed to rollback transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			log.Error().Err(commitErr).Int64("version", version).Msg("storage: failed to commit transaction")
			version = 0
			err = fmt.Errorf("storage: failed to commit transaction: %w", commitErr)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO order_collections (name, version)
		VALUES ($1, 0)
		ON CONFLICT (name) DO NOTHING
	`, collectionName)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to ensure collection row: %w", err)
	}

	var current int64
	err = tx.QueryRow(ctx, `SELECT version FROM order_collections WHERE name = $1 FOR UPDATE`, collectionName).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to lock collection version: %w", err)
	}
	if current != expected {
		err = fmt.Errorf("%w: expected version %d, found %d", ErrVersionConflict, expected, current)
		return 0, err
	}

	ids := make([]string, 0, len(orders))
	for i := range orders {
		ids = append(ids, orders[i].ID.String())
	}
	_, err = tx.Exec(ctx, `DELETE FROM orders WHERE NOT (id = ANY($1::uuid[]))`, ids)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to delete removed orders: %w", err)
	}

	for i := range orders {
		o := &orders[i]
		doc, encErr := EncodeOrder(o)
		if encErr != nil {
			err = encErr
			return 0, err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO orders (id, order_number, created_at, document)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE
			SET order_number = EXCLUDED.order_number,
			    document = EXCLUDED.document
		`, o.ID.String(), o.OrderNumber, o.CreatedAt, doc)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				err = fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.OrderNumber)
				return 0, err
			}
			return 0, fmt.Errorf("storage: failed to upsert order %s: %w", o.ID, err)
		}
	}

	err = tx.QueryRow(ctx, `
		UPDATE order_collections
		SET version = version + 1, updated_at = now()
		WHERE name = $1
		RETURNING version
	`, collectionName).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("storage: failed to bump collection version: %w", err)
	}

	return version, nil
}
