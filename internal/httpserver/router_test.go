package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crowdfund/internal/auth"
	"crowdfund/internal/cache"
	"crowdfund/internal/clock"
	"crowdfund/internal/handler"
	"crowdfund/internal/model"
	"crowdfund/internal/service/lifecycle"
	"crowdfund/internal/store/memstore"
	"crowdfund/pkg/outbox"
	"crowdfund/pkg/rbac"
	"crowdfund/pkg/util"
)

const secret = "test-secret"

type recordingPublisher struct{ keys []string }

func (p *recordingPublisher) PublishRaw(_ context.Context, key string, _ []byte) error {
	p.keys = append(p.keys, key)
	return nil
}

type testServer struct {
	router *Router
	store  *memstore.Store
	clock  *clock.Manual
	pub    *recordingPublisher
}

func newTestServer(t *testing.T, checks ...ReadinessCheck) *testServer {
	t.Helper()
	return buildTestServer(t, nil, checks...)
}

// newCachedTestServer 使用 miniredis 上的真实商品缓存
func newCachedTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return buildTestServer(t, cache.NewProductCache(rdb, time.Minute, zap.NewNop()))
}

func buildTestServer(t *testing.T, pc *cache.ProductCache, checks ...ReadinessCheck) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memstore.New()
	clk := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	var opts []lifecycle.Option
	var productCache handler.ProductCache
	if pc != nil {
		opts = append(opts, lifecycle.WithAfterCommit(pc.Invalidate))
		productCache = pc
	}
	svc := lifecycle.NewService(st, auth.ContextAuthenticator{}, clk, zap.NewNop(), opts...)
	pub := &recordingPublisher{}

	r := NewRouter(
		handler.NewProductHandler(svc, productCache, zap.NewNop()),
		handler.NewAdminHandler(svc, outbox.NewReplayService(st, pub), zap.NewNop()),
		st,
		secret,
		zap.NewNop(),
		checks...,
	)
	return &testServer{router: r, store: st, clock: clk, pub: pub}
}

func token(t *testing.T, identity, role string) string {
	t.Helper()
	tok, err := util.GenerateJWT(identity, role, secret, time.Hour)
	if err != nil {
		t.Fatalf("generate jwt: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d, body %s", w.Code, want, w.Body.String())
	}
}

func TestProductLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	adminTok := token(t, "GADMIN", rbac.RoleAdmin)
	creatorTok := token(t, "GCREATOR", rbac.RoleBacker)
	backerTok := token(t, "GBACKER", "")

	expectStatus(t, s.do(t, http.MethodPost, "/admin/initialize", creatorTok, nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodPost, "/admin/initialize", adminTok, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/admin/initialize", adminTok, nil), http.StatusConflict)

	w := s.do(t, http.MethodPost, "/products", creatorTok, map[string]any{
		"name":         "Widget",
		"funding_goal": 100,
		"deadline":     s.clock.Now().Add(time.Hour),
		"reward_tiers": []model.RewardTier{{ID: 1, MinContribution: 10, Description: "Tier1", Discount: 5}},
	})
	expectStatus(t, w, http.StatusCreated)
	var created struct {
		ProductID int64 `json:"product_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.ProductID != 1 {
		t.Fatalf("product_id = %d", created.ProductID)
	}

	w = s.do(t, http.MethodPost, "/products/1/contributions", backerTok, map[string]any{"amount": 150})
	expectStatus(t, w, http.StatusUnprocessableEntity)

	expectStatus(t, s.do(t, http.MethodPost, "/products/1/contributions", backerTok, map[string]any{"amount": 100}), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/products/1/distribute", backerTok, nil), http.StatusOK)

	w = s.do(t, http.MethodPost, "/products/1/claims", backerTok, nil)
	expectStatus(t, w, http.StatusCreated)
	var claim model.RewardClaim
	_ = json.Unmarshal(w.Body.Bytes(), &claim)
	if claim.Tier != "Tier1" || claim.Claimant != "GBACKER" {
		t.Fatalf("unexpected claim %+v", claim)
	}

	w = s.do(t, http.MethodGet, "/products/1", "", nil)
	expectStatus(t, w, http.StatusOK)
	var p model.Product
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.Status != model.StatusCompleted || p.TotalFunded != 100 {
		t.Fatalf("unexpected product %+v", p)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	backerTok := token(t, "GBACKER", rbac.RoleBacker)

	expectStatus(t, s.do(t, http.MethodPost, "/products/1/contributions", "", map[string]any{"amount": 1}), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodPost, "/products/1/contributions", "garbage", map[string]any{"amount": 1}), http.StatusUnauthorized)
	expectStatus(t, s.do(t, http.MethodGet, "/products/9", "", nil), http.StatusNotFound)
	expectStatus(t, s.do(t, http.MethodGet, "/products/abc", "", nil), http.StatusBadRequest)
	expectStatus(t, s.do(t, http.MethodPost, "/products/1/refund", backerTok, nil), http.StatusNotFound)

	w := s.do(t, http.MethodPost, "/products", backerTok, map[string]any{
		"name":         "Widget",
		"funding_goal": 100,
		"deadline":     s.clock.Now().Add(time.Hour),
	})
	expectStatus(t, w, http.StatusConflict)

	w = s.do(t, http.MethodGet, "/products/9/milestones", "", nil)
	expectStatus(t, w, http.StatusOK)
	var list struct {
		Items []model.Milestone `json:"items"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Items == nil || len(list.Items) != 0 {
		t.Fatalf("expected empty list, got %s", w.Body.String())
	}
}

func TestReplayOutboxEvent(t *testing.T) {
	s := newTestServer(t)
	adminTok := token(t, "GADMIN", rbac.RoleAdmin)

	expectStatus(t, s.do(t, http.MethodPost, "/admin/initialize", adminTok, nil), http.StatusOK)
	w := s.do(t, http.MethodPost, "/products", adminTok, map[string]any{
		"name":         "Widget",
		"funding_goal": 100,
		"deadline":     s.clock.Now().Add(time.Hour),
	})
	expectStatus(t, w, http.StatusCreated)

	expectStatus(t, s.do(t, http.MethodPost, "/admin/outbox/1/replay", token(t, "GB", rbac.RoleBacker), nil), http.StatusForbidden)
	expectStatus(t, s.do(t, http.MethodPost, "/admin/outbox/1/replay", adminTok, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/admin/outbox/99/replay", adminTok, nil), http.StatusNotFound)

	if len(s.pub.keys) != 1 || s.pub.keys[0] != "product.created" {
		t.Fatalf("published = %v", s.pub.keys)
	}
	e, _ := s.store.GetEventByID(context.Background(), 1)
	if e.Status != outbox.StatusSent {
		t.Fatalf("event status = %s", e.Status)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodGet, "/healthz", "", nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodGet, "/readyz", "", nil), http.StatusOK)
	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	expectStatus(t, w, http.StatusOK)
	if w.Header().Get("X-Trace-ID") == "" {
		t.Fatal("missing trace header")
	}
}

func TestReadinessChecks(t *testing.T) {
	s := newTestServer(t, ReadinessCheck{
		Name:  "mq",
		Check: func(context.Context) error { return errors.New("mq publisher disconnected") },
	})
	w := s.do(t, http.MethodGet, "/readyz", "", nil)
	expectStatus(t, w, http.StatusServiceUnavailable)

	var body map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "mq_not_ready" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestListRoutesForUnknownProductZero(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{
		"/products/0/contributions",
		"/products/0/milestones",
		"/products/0/rewards",
		"/products/0/claims",
	} {
		w := s.do(t, http.MethodGet, path, "", nil)
		expectStatus(t, w, http.StatusOK)
		var list struct {
			Items []json.RawMessage `json:"items"`
		}
		_ = json.Unmarshal(w.Body.Bytes(), &list)
		if list.Items == nil || len(list.Items) != 0 {
			t.Fatalf("%s: expected empty list, got %s", path, w.Body.String())
		}
	}
	expectStatus(t, s.do(t, http.MethodGet, "/products/0", "", nil), http.StatusNotFound)
}

func TestCachedProductReflectsLaterMutations(t *testing.T) {
	s := newCachedTestServer(t)
	adminTok := token(t, "GADMIN", rbac.RoleAdmin)
	backerTok := token(t, "GBACKER", "")

	expectStatus(t, s.do(t, http.MethodPost, "/admin/initialize", adminTok, nil), http.StatusOK)
	expectStatus(t, s.do(t, http.MethodPost, "/products", adminTok, map[string]any{
		"name":         "Widget",
		"funding_goal": 100,
		"deadline":     s.clock.Now().Add(time.Hour),
	}), http.StatusCreated)

	get := func() model.Product {
		t.Helper()
		w := s.do(t, http.MethodGet, "/products/1", "", nil)
		expectStatus(t, w, http.StatusOK)
		var p model.Product
		_ = json.Unmarshal(w.Body.Bytes(), &p)
		return p
	}

	// 第一次读取回填缓存，第二次命中
	if p := get(); p.Status != model.StatusActive || p.TotalFunded != 0 {
		t.Fatalf("unexpected product %+v", p)
	}
	_ = get()

	expectStatus(t, s.do(t, http.MethodPost, "/products/1/contributions", backerTok, map[string]any{"amount": 100}), http.StatusOK)
	if p := get(); p.Status != model.StatusFunded || p.TotalFunded != 100 {
		t.Fatalf("stale product after contribution: %+v", p)
	}

	expectStatus(t, s.do(t, http.MethodPost, "/products/1/distribute", backerTok, nil), http.StatusOK)
	if p := get(); p.Status != model.StatusCompleted {
		t.Fatalf("stale product after distribute: %+v", p)
	}
}
