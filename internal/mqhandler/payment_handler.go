package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "crowdfund/contracts/mq"
	"crowdfund/internal/payment"
	"crowdfund/pkg/logger"
	"crowdfund/pkg/mq"
	"crowdfund/pkg/trace"
	"crowdfund/pkg/util"
)

const defaultMaxRetries = 5

// Deduper 见 util.Deduper（Redis SETNX）
type Deduper interface {
	AcquireOnce(ctx context.Context, handler string, key string) bool
	Release(ctx context.Context, handler string, key string)
}

// RetryCounter 见 util.RetryCounter
type RetryCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// PaymentHandler 消费 funds.distributed / product.refunded / reward.claimed 并驱动支付网关
type PaymentHandler struct {
	gateway    payment.Gateway
	deduper    Deduper
	retries    RetryCounter
	maxRetries int64
	logger     *zap.Logger
}

func NewPaymentHandler(gateway payment.Gateway, deduper Deduper, retries RetryCounter, maxRetries int, logger *zap.Logger) *PaymentHandler {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &PaymentHandler{
		gateway:    gateway,
		deduper:    deduper,
		retries:    retries,
		maxRetries: int64(maxRetries),
		logger:     logger,
	}
}

// paymentStep 是一次幂等的网关调用，key 在同一 handler 内唯一
type paymentStep struct {
	key  string
	call func(ctx context.Context) error
}

func (h *PaymentHandler) HandleFundsDistributed(ctx context.Context, raw json.RawMessage) error {
	const handler = "funds_distributed"

	var p mqcontracts.FundsDistributedPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	ctx = withTrace(ctx, p.TraceID)

	return h.run(ctx, handler, p.ProductID, []paymentStep{{
		key: fmt.Sprintf("%d", p.ProductID),
		call: func(ctx context.Context) error {
			return h.gateway.Transfer(ctx, payment.EscrowAccount, p.Creator, p.Amount)
		},
	}})
}

// HandleProductRefunded 逐笔退款；每笔单独去重，部分失败重试时不会重复退已完成的部分
func (h *PaymentHandler) HandleProductRefunded(ctx context.Context, raw json.RawMessage) error {
	const handler = "product_refunded"

	var p mqcontracts.ProductRefundedPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	ctx = withTrace(ctx, p.TraceID)

	steps := make([]paymentStep, 0, len(p.Refunds))
	for i, r := range p.Refunds {
		r := r
		steps = append(steps, paymentStep{
			key: fmt.Sprintf("%d:%d", p.ProductID, i),
			call: func(ctx context.Context) error {
				return h.gateway.Transfer(ctx, payment.EscrowAccount, r.Contributor, r.Amount)
			},
		})
	}
	return h.run(ctx, handler, p.ProductID, steps)
}

func (h *PaymentHandler) HandleRewardClaimed(ctx context.Context, raw json.RawMessage) error {
	const handler = "reward_claimed"

	var p mqcontracts.RewardClaimedPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	ctx = withTrace(ctx, p.TraceID)

	return h.run(ctx, handler, p.ProductID, []paymentStep{{
		key: p.CredentialID,
		call: func(ctx context.Context) error {
			return h.gateway.IssueCredential(ctx, p.Claimant, p.Tier, p.CredentialID)
		},
	}})
}

func (h *PaymentHandler) run(ctx context.Context, handler string, productID int64, steps []paymentStep) error {
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("handler", handler),
		zap.Int64("product_id", productID),
	)
	retryKey := util.FormatRetryKey(handler, fmt.Sprintf("%d", productID))

	for _, step := range steps {
		if !h.deduper.AcquireOnce(ctx, handler, step.key) {
			continue
		}
		if err := step.call(ctx); err != nil {
			h.deduper.Release(ctx, handler, step.key)
			return h.handleGatewayError(ctx, log, retryKey, err)
		}
	}

	if err := h.retries.Reset(ctx, retryKey); err != nil {
		log.Warn("Failed to reset retry counter", zap.Error(err))
	}
	log.Info("Payment steps completed", zap.Int("steps", len(steps)))
	return nil
}

// handleGatewayError 可重试且未超过上限 → nack 重新入队；否则进入 DLQ
func (h *PaymentHandler) handleGatewayError(ctx context.Context, log *zap.Logger, retryKey string, err error) error {
	retryable, errType := util.IsRetryableError(err)
	count, cerr := h.retries.IncrementAndGet(ctx, retryKey)
	if cerr != nil {
		log.Warn("Failed to increment retry counter", zap.Error(cerr))
	}

	log.Warn("Payment gateway error",
		zap.String("error_type", errType),
		zap.Bool("retryable", retryable),
		zap.Int64("retry", count),
		zap.Error(err),
	)

	if !util.ShouldRetry(count, h.maxRetries, retryable) {
		_ = h.retries.Reset(ctx, retryKey)
		return mq.Permanent(err)
	}
	return err
}

func decode(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return mq.Permanent(fmt.Errorf("bad_payload: %w", err))
	}
	return nil
}

func withTrace(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, traceID)
}
