package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crowdfund/internal/model"
)

func newTestCache(t *testing.T) (*ProductCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewProductCache(rdb, time.Minute, zap.NewNop()), mr
}

func loader(p *model.Product, calls *int) func(context.Context, int64) (*model.Product, error) {
	return func(context.Context, int64) (*model.Product, error) {
		*calls++
		cp := *p
		return &cp, nil
	}
}

func TestProductKey(t *testing.T) {
	if got := productKey(42); got != "crowdfund:product:42" {
		t.Fatalf("productKey = %q", got)
	}
	if got := generationKey(42); got != "crowdfund:product:42:gen" {
		t.Fatalf("generationKey = %q", got)
	}
}

func TestFillThenHit(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if _, ok := c.Get(ctx, 1); ok {
		t.Fatal("expected miss on empty cache")
	}

	var calls int
	stored := &model.Product{ID: 1, Name: "lamp", FundingGoal: 1000, Status: model.StatusActive}
	p, err := c.Fill(ctx, 1, loader(stored, &calls))
	if err != nil || p.Name != "lamp" || calls != 1 {
		t.Fatalf("fill = %+v, %v (calls %d)", p, err, calls)
	}

	got, ok := c.Get(ctx, 1)
	if !ok || got.FundingGoal != 1000 || got.Status != model.StatusActive {
		t.Fatalf("get after fill = %+v, %v", got, ok)
	}
	if ttl := mr.TTL(productKey(1)); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestInvalidateDropsEntry(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var calls int
	_, _ = c.Fill(ctx, 1, loader(&model.Product{ID: 1}, &calls))
	c.Invalidate(ctx, 1)

	if _, ok := c.Get(ctx, 1); ok {
		t.Fatal("expected miss after invalidate")
	}

	// 失效后的下一次回填照常写入
	_, _ = c.Fill(ctx, 1, loader(&model.Product{ID: 1, TotalFunded: 5}, &calls))
	got, ok := c.Get(ctx, 1)
	if !ok || got.TotalFunded != 5 {
		t.Fatalf("get after refill = %+v, %v", got, ok)
	}
}

func TestFillSkipsSnapshotInvalidatedDuringLoad(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	// 读取存储之后、回填之前有一次提交
	load := func(ctx context.Context, id int64) (*model.Product, error) {
		snapshot := &model.Product{ID: id, Status: model.StatusActive}
		c.Invalidate(ctx, id)
		return snapshot, nil
	}
	p, err := c.Fill(ctx, 1, load)
	if err != nil || p.Status != model.StatusActive {
		t.Fatalf("fill = %+v, %v", p, err)
	}

	if got, ok := c.Get(ctx, 1); ok {
		t.Fatalf("stale snapshot was cached: %+v", got)
	}
}

func TestFillPropagatesLoadError(t *testing.T) {
	c, _ := newTestCache(t)
	boom := errors.New("not found")

	_, err := c.Fill(context.Background(), 1, func(context.Context, int64) (*model.Product, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, ok := c.Get(context.Background(), 1); ok {
		t.Fatal("failed load must not be cached")
	}
}

func TestCorruptEntryIsDropped(t *testing.T) {
	c, mr := newTestCache(t)
	if err := mr.Set(productKey(1), "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(context.Background(), 1); ok {
		t.Fatal("expected miss on corrupt entry")
	}
	if mr.Exists(productKey(1)) {
		t.Fatal("corrupt entry should be deleted")
	}
}

func TestUnavailableRedisIsACacheMiss(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()

	c := NewProductCache(rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	var calls int
	p, err := c.Fill(ctx, 1, loader(&model.Product{ID: 1, Name: "x"}, &calls))
	if err != nil || p.Name != "x" {
		t.Fatalf("fill with redis down = %+v, %v", p, err)
	}
	if _, ok := c.Get(ctx, 1); ok {
		t.Fatal("expected miss when redis is unreachable")
	}
	c.Invalidate(ctx, 1)
}
