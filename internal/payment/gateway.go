// Package payment is the boundary to the token / payment rail.
package payment

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"crowdfund/pkg/circuitbreaker"
	"crowdfund/pkg/logger"
	"crowdfund/pkg/metrics"
)

// EscrowAccount 是平台托管出资的账户
const EscrowAccount = "escrow"

// Gateway 执行资金划转与奖励凭证发放，实现方需要对重复调用保持幂等
type Gateway interface {
	Transfer(ctx context.Context, from, to string, amount uint64) error
	IssueCredential(ctx context.Context, identity, tier, credentialID string) error
}

// LoggingGateway 只记录日志和指标，不接入真实支付通道
type LoggingGateway struct {
	logger *zap.Logger
}

func NewLoggingGateway(logger *zap.Logger) *LoggingGateway {
	return &LoggingGateway{logger: logger}
}

func (g *LoggingGateway) Transfer(ctx context.Context, from, to string, amount uint64) error {
	logger.WithTrace(ctx, g.logger).Info("Transfer",
		zap.String("from", from),
		zap.String("to", to),
		zap.Uint64("amount", amount),
	)
	metrics.RecordPaymentCall("transfer", "success")
	return nil
}

func (g *LoggingGateway) IssueCredential(ctx context.Context, identity, tier, credentialID string) error {
	logger.WithTrace(ctx, g.logger).Info("Issue reward credential",
		zap.String("identity", identity),
		zap.String("tier", tier),
		zap.String("credential_id", credentialID),
	)
	metrics.RecordPaymentCall("credential", "success")
	return nil
}

// BreakerGateway 给下游网关加熔断
type BreakerGateway struct {
	next Gateway
	cb   *circuitbreaker.CircuitBreaker
}

func NewBreakerGateway(next Gateway, cb *circuitbreaker.CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{next: next, cb: cb}
}

func (g *BreakerGateway) Transfer(ctx context.Context, from, to string, amount uint64) error {
	return g.do("transfer", func() error {
		return g.next.Transfer(ctx, from, to, amount)
	})
}

func (g *BreakerGateway) IssueCredential(ctx context.Context, identity, tier, credentialID string) error {
	return g.do("credential", func() error {
		return g.next.IssueCredential(ctx, identity, tier, credentialID)
	})
}

func (g *BreakerGateway) do(kind string, fn func() error) error {
	err := g.cb.Execute(fn)
	switch {
	case err == nil:
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		metrics.RecordPaymentCall(kind, "circuit_open")
	default:
		metrics.RecordPaymentCall(kind, "error")
	}
	return err
}
