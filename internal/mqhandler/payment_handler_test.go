package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	mqcontracts "crowdfund/contracts/mq"
	"crowdfund/pkg/mq"
	"crowdfund/pkg/util"
)

type memDeduper struct{ seen map[string]bool }

func newMemDeduper() *memDeduper { return &memDeduper{seen: map[string]bool{}} }

func (d *memDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	k := handler + ":" + key
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, handler, key string) {
	delete(d.seen, handler+":"+key)
}

type memRetries struct{ counts map[string]int64 }

func newMemRetries() *memRetries { return &memRetries{counts: map[string]int64{}} }

func (r *memRetries) IncrementAndGet(_ context.Context, key string) (int64, error) {
	r.counts[key]++
	return r.counts[key], nil
}

func (r *memRetries) Reset(_ context.Context, key string) error {
	delete(r.counts, key)
	return nil
}

type transfer struct {
	from, to string
	amount   uint64
}

type fakeGateway struct {
	transfers   []transfer
	credentials []string
	failFor     map[string]error
}

func (g *fakeGateway) Transfer(_ context.Context, from, to string, amount uint64) error {
	if err := g.failFor[to]; err != nil {
		return err
	}
	g.transfers = append(g.transfers, transfer{from, to, amount})
	return nil
}

func (g *fakeGateway) IssueCredential(_ context.Context, identity, tier, credentialID string) error {
	if err := g.failFor[identity]; err != nil {
		return err
	}
	g.credentials = append(g.credentials, credentialID)
	return nil
}

func newHandler(g *fakeGateway) *PaymentHandler {
	return NewPaymentHandler(g, newMemDeduper(), newMemRetries(), 2, zap.NewNop())
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFundsDistributedTransfersOnce(t *testing.T) {
	g := &fakeGateway{}
	h := newHandler(g)
	raw := mustJSON(t, mqcontracts.FundsDistributedPayload{ProductID: 1, Creator: "GC", Amount: 1000})

	for i := 0; i < 2; i++ {
		if err := h.HandleFundsDistributed(context.Background(), raw); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if len(g.transfers) != 1 || g.transfers[0].to != "GC" || g.transfers[0].amount != 1000 {
		t.Fatalf("unexpected transfers %+v", g.transfers)
	}
}

func TestProductRefundedResumesAfterPartialFailure(t *testing.T) {
	g := &fakeGateway{failFor: map[string]error{"GB": context.DeadlineExceeded}}
	h := newHandler(g)
	raw := mustJSON(t, mqcontracts.ProductRefundedPayload{
		ProductID: 7,
		Refunds: []mqcontracts.Refund{
			{Contributor: "GA", Amount: 100},
			{Contributor: "GB", Amount: 200},
		},
	})

	err := h.HandleProductRefunded(context.Background(), raw)
	if err == nil || errors.Is(err, mq.ErrPermanent) {
		t.Fatalf("err = %v, want retryable error", err)
	}

	delete(g.failFor, "GB")
	if err := h.HandleProductRefunded(context.Background(), raw); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(g.transfers) != 2 || g.transfers[0].to != "GA" || g.transfers[1].to != "GB" {
		t.Fatalf("unexpected transfers %+v", g.transfers)
	}
}

func TestRetryableErrorGoesToDLQAfterLimit(t *testing.T) {
	g := &fakeGateway{failFor: map[string]error{"GA": context.DeadlineExceeded}}
	h := newHandler(g)
	raw := mustJSON(t, mqcontracts.RewardClaimedPayload{ProductID: 1, Claimant: "GA", Tier: "Tier1", CredentialID: "c1"})

	for i := 0; i < 2; i++ {
		if err := h.HandleRewardClaimed(context.Background(), raw); errors.Is(err, mq.ErrPermanent) {
			t.Fatalf("attempt %d went to DLQ early", i+1)
		}
	}
	if err := h.HandleRewardClaimed(context.Background(), raw); !errors.Is(err, mq.ErrPermanent) {
		t.Fatalf("err = %v, want permanent after retries", err)
	}
}

func TestRejectedPaymentIsPermanent(t *testing.T) {
	g := &fakeGateway{failFor: map[string]error{"GC": util.ErrGatewayRejected}}
	h := newHandler(g)
	raw := mustJSON(t, mqcontracts.FundsDistributedPayload{ProductID: 1, Creator: "GC", Amount: 1})

	if err := h.HandleFundsDistributed(context.Background(), raw); !errors.Is(err, mq.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
}

func TestBadPayloadIsPermanent(t *testing.T) {
	h := newHandler(&fakeGateway{})
	if err := h.HandleRewardClaimed(context.Background(), json.RawMessage(`{`)); !errors.Is(err, mq.ErrPermanent) {
		t.Fatalf("err = %v, want permanent", err)
	}
}
