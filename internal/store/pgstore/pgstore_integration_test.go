package pgstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"crowdfund/internal/store"
	"crowdfund/pkg/outbox"
)

// openTestStore 连接 CROWDFUND_TEST_DATABASE_URL 指向的专用测试库，未设置时跳过。
// 会清空 kv_entries 与 outbox_events。
func openTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("CROWDFUND_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CROWDFUND_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool, zap.NewNop())
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE kv_entries, outbox_events RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s, pool
}

func TestListOrdersAndTreatsZeroAsAll(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, k := range []store.Key{
			store.ClaimKey(10, "GB"),
			store.ClaimKey(2, "GZ"),
			store.ClaimKey(2, "GA"),
			store.ProductKey(2),
		} {
			if err := tx.Put(ctx, k, k.String()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.List(ctx, store.KindClaim, 0)
		if err != nil {
			t.Fatalf("list all: %v", err)
		}
		want := []store.Key{store.ClaimKey(2, "GA"), store.ClaimKey(2, "GZ"), store.ClaimKey(10, "GB")}
		if len(all) != len(want) {
			t.Fatalf("list all = %+v", all)
		}
		for i := range want {
			if all[i].Key != want[i] {
				t.Fatalf("entry %d = %v, want %v", i, all[i].Key, want[i])
			}
		}

		one, err := tx.List(ctx, store.KindClaim, 10)
		if err != nil {
			t.Fatalf("list one: %v", err)
		}
		if len(one) != 1 || one[0].Key != store.ClaimKey(10, "GB") {
			t.Fatalf("list product 10 = %+v", one)
		}
		return nil
	})
}

func TestFailedUpdateRollsBackOutboxInsert(t *testing.T) {
	s, pool := openTestStore(t)
	ctx := context.Background()
	events := outbox.NewRepository(pool)
	boom := errors.New("boom")

	err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Put(ctx, store.ProductKey(1), "x"); err != nil {
			return err
		}
		if err := tx.Emit(ctx, "product.created", 1, map[string]int64{"product_id": 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	pending, err := events.GetPendingEvents(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("rolled back tx left %d outbox events", len(pending))
	}
	_ = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var v string
		if found, _ := tx.Get(ctx, store.ProductKey(1), &v); found {
			t.Fatal("rolled back write is visible")
		}
		return nil
	})

	err = s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Emit(ctx, "product.created", 1, map[string]int64{"product_id": 1})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	pending, _ = events.GetPendingEvents(ctx, 10)
	if len(pending) != 1 || pending[0].RoutingKey != "product.created" {
		t.Fatalf("pending = %+v", pending)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	_ = s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Put(ctx, store.ContributionsKey(1), []int{1})
	})
	if err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Delete(ctx, store.ContributionsKey(1))
	}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_ = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var v []int
		if found, _ := tx.Get(ctx, store.ContributionsKey(1), &v); found {
			t.Fatal("deleted entry still present")
		}
		return nil
	})
}
