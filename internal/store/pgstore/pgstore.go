// Package pgstore implements store.Store on PostgreSQL.
//
// Every Update runs in a SERIALIZABLE transaction and reads rows FOR UPDATE.
// Emitted events are inserted into outbox_events inside the same transaction.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"crowdfund/internal/store"
	"crowdfund/pkg/otel"
	"crowdfund/pkg/outbox"
)

const defaultMaxAttempts = 5

const schema = `
CREATE TABLE IF NOT EXISTS kv_entries (
	kind       TEXT        NOT NULL,
	product_id BIGINT      NOT NULL,
	sub        TEXT        NOT NULL DEFAULT '',
	value      JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (kind, product_id, sub)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL   PRIMARY KEY,
	aggregate_type TEXT        NOT NULL,
	aggregate_id   BIGINT,
	routing_key    TEXT        NOT NULL,
	payload        JSONB       NOT NULL,
	status         TEXT        NOT NULL DEFAULT 'pending',
	retry_count    INT         NOT NULL DEFAULT 0,
	next_retry_at  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_outbox_events_status_id ON outbox_events (status, id);
`

type Store struct {
	db          *pgxpool.Pool
	logger      *zap.Logger
	maxAttempts int
}

func New(db *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger, maxAttempts: defaultMaxAttempts}
}

// Migrate 创建 kv_entries 与 outbox_events 表（幂等）
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, pgx.ReadWrite, fn)
}

func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return s.run(ctx, pgx.ReadOnly, fn)
}

func (s *Store) run(ctx context.Context, mode pgx.TxAccessMode, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.attempt(ctx, mode, fn)
		if err == nil || !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		s.logger.Debug("Retrying serialization failure",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, lastErr)
}

func (s *Store) attempt(ctx context.Context, mode pgx.TxAccessMode, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: mode})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx, readOnly: mode == pgx.ReadOnly}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isSerializationFailure 判断是否为可重试的并发冲突
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "40001", "40P01":
			return true
		}
	}
	return false
}

type pgTx struct {
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) Get(ctx context.Context, key store.Key, dst any) (bool, error) {
	query := `SELECT value FROM kv_entries WHERE kind = $1 AND product_id = $2 AND sub = $3`
	if !t.readOnly {
		query += ` FOR UPDATE`
	}

	var raw []byte
	err := otel.Query(ctx, "select", query, func(ctx context.Context) error {
		return t.tx.QueryRow(ctx, query, string(key.Kind), key.ProductID, key.Sub).Scan(&raw)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (t *pgTx) Put(ctx context.Context, key store.Key, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	query := `
		INSERT INTO kv_entries (kind, product_id, sub, value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (kind, product_id, sub)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	err = otel.Query(ctx, "insert", query, func(ctx context.Context) error {
		_, err := t.tx.Exec(ctx, query, string(key.Kind), key.ProductID, key.Sub, raw)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, key store.Key) error {
	query := `DELETE FROM kv_entries WHERE kind = $1 AND product_id = $2 AND sub = $3`
	err := otel.Query(ctx, "delete", query, func(ctx context.Context) error {
		_, err := t.tx.Exec(ctx, query, string(key.Kind), key.ProductID, key.Sub)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) List(ctx context.Context, kind store.Kind, productID int64) ([]store.Entry, error) {
	query := `
		SELECT product_id, sub, value FROM kv_entries
		WHERE kind = $1 AND ($2::BIGINT = 0 OR product_id = $2)
		ORDER BY product_id, sub
	`

	var entries []store.Entry
	err := otel.Query(ctx, "select", query, func(ctx context.Context) error {
		rows, err := t.tx.Query(ctx, query, string(kind), productID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			e := store.Entry{Key: store.Key{Kind: kind}}
			var raw []byte
			if err := rows.Scan(&e.Key.ProductID, &e.Key.Sub, &raw); err != nil {
				return err
			}
			e.Value = raw
			entries = append(entries, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return entries, nil
}

func (t *pgTx) Emit(ctx context.Context, routingKey string, productID int64, payload any) error {
	if t.readOnly {
		return fmt.Errorf("emit %s in read-only transaction", routingKey)
	}
	id := productID
	return outbox.InsertEventInTx(ctx, t.tx, "product", &id, routingKey, payload)
}
