package memstore

import (
	"context"
	"errors"
	"testing"

	"crowdfund/internal/store"
	"crowdfund/pkg/outbox"
)

var _ store.Store = (*Store)(nil)
var _ outbox.EventStore = (*Store)(nil)

func TestUpdateCommitsWritesAndEvents(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Put(ctx, store.ProductKey(1), map[string]int{"goal": 10}); err != nil {
			return err
		}
		return tx.Emit(ctx, "product.created", 1, map[string]int64{"product_id": 1})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	var got map[string]int
	err = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		ok, err := tx.Get(ctx, store.ProductKey(1), &got)
		if !ok {
			t.Fatal("expected product to exist")
		}
		return err
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if got["goal"] != 10 {
		t.Fatalf("goal = %d, want 10", got["goal"])
	}

	events := s.Events()
	if len(events) != 1 || events[0].ID != 1 || events[0].RoutingKey != "product.created" {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		_ = tx.Put(ctx, store.ProductKey(1), "x")
		_ = tx.Emit(ctx, "product.created", 1, "x")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	_ = s.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var v string
		if ok, _ := tx.Get(ctx, store.ProductKey(1), &v); ok {
			t.Fatal("write survived a failed transaction")
		}
		return nil
	})
	if n := len(s.Events()); n != 0 {
		t.Fatalf("events = %d, want 0", n)
	}
}

func TestListOrderAndStagedWrites(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, id := range []int64{10, 2, 1} {
			_ = tx.Put(ctx, store.ProductKey(id), id)
		}
		return nil
	})

	_ = s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		_ = tx.Delete(ctx, store.ProductKey(2))
		_ = tx.Put(ctx, store.ProductKey(3), int64(3))
		_ = tx.Put(ctx, store.ClaimKey(1, "GA"), "claim")

		entries, err := tx.List(ctx, store.KindProduct, 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		var ids []int64
		for _, e := range entries {
			ids = append(ids, e.Key.ProductID)
		}
		want := []int64{1, 3, 10}
		if len(ids) != len(want) {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("ids = %v, want %v", ids, want)
			}
		}

		claims, _ := tx.List(ctx, store.KindClaim, 1)
		if len(claims) != 1 || claims[0].Key.Sub != "GA" {
			t.Fatalf("unexpected claims %+v", claims)
		}
		return nil
	})
}

func TestViewRejectsWrites(t *testing.T) {
	s := New()
	err := s.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Put(ctx, store.ProductKey(1), 1)
	})
	if err == nil {
		t.Fatal("expected write in view to fail")
	}
}

func TestOutboxLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.Emit(ctx, "funds.distributed", 1, "x")
	})

	pending, _ := s.GetPendingEvents(ctx, 10)
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	if err := s.MarkAsFailed(ctx, 1, 1); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	failed, _ := s.GetFailedEvents(ctx, 10)
	if len(failed) != 1 {
		t.Fatalf("failed = %d, want 1", len(failed))
	}

	if err := s.ResetEvent(ctx, 1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := s.MarkAsSent(ctx, 1); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	e, _ := s.GetEventByID(ctx, 1)
	if e.Status != outbox.StatusSent || e.RetryCount != 0 {
		t.Fatalf("unexpected event %+v", e)
	}

	if _, err := s.GetEventByID(ctx, 99); !errors.Is(err, outbox.ErrEventNotFound) {
		t.Fatalf("err = %v, want ErrEventNotFound", err)
	}
}
