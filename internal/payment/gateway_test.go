package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"crowdfund/pkg/circuitbreaker"
)

type failingGateway struct{ calls int }

func (f *failingGateway) Transfer(context.Context, string, string, uint64) error {
	f.calls++
	return errors.New("rail down")
}

func (f *failingGateway) IssueCredential(context.Context, string, string, string) error {
	f.calls++
	return errors.New("rail down")
}

func TestBreakerGatewayOpensAfterFailures(t *testing.T) {
	next := &failingGateway{}
	cb := circuitbreaker.NewCircuitBreaker("payment", circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
	})
	g := NewBreakerGateway(next, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := g.Transfer(ctx, EscrowAccount, "GA", 10); err == nil {
			t.Fatal("expected failure")
		}
	}
	err := g.IssueCredential(ctx, "GA", "Tier1", "cred")
	if !errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		t.Fatalf("err = %v, want circuit open", err)
	}
	if next.calls != 2 {
		t.Fatalf("downstream calls = %d, want 2", next.calls)
	}
}

func TestLoggingGatewaySucceeds(t *testing.T) {
	g := NewLoggingGateway(zap.NewNop())
	if err := g.Transfer(context.Background(), EscrowAccount, "GA", 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := g.IssueCredential(context.Background(), "GA", "Tier1", "cred"); err != nil {
		t.Fatalf("issue: %v", err)
	}
}
