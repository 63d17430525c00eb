// Package runner drives time-based lifecycle transitions on a schedule.
package runner

import (
	"context"
	"time"

	"go.uber.org/zap"

	"crowdfund/internal/service/lifecycle"
	"crowdfund/pkg/metrics"
	"crowdfund/pkg/trace"
)

// Refunder 是 sweeper 依赖的引擎子集
type Refunder interface {
	ListExpired(ctx context.Context) ([]int64, error)
	RefundContributors(ctx context.Context, productID int64) error
}

// Sweeper 定期为过期未达标的产品调用 RefundContributors
type Sweeper struct {
	engine   Refunder
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(engine Refunder, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{engine: engine, interval: interval, logger: logger}
}

// Start 启动时立即执行一次，之后按间隔执行，直到 ctx 结束
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info("Refund sweeper started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Refund sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce 返回本轮成功退款的产品数量
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	ctx = trace.WithContext(ctx, trace.GenerateTraceID())

	ids, err := s.engine.ListExpired(ctx)
	if err != nil {
		metrics.RecordRefundSweep("list_error")
		s.logger.Error("Failed to list expired products", zap.Error(err))
		return 0
	}

	refunded := 0
	for _, id := range ids {
		err := s.engine.RefundContributors(ctx, id)
		switch {
		case err == nil:
			refunded++
			metrics.RecordRefundSweep("refunded")
		case lifecycle.KindOf(err) != "":
			// 列出之后状态已被其他调用改变
			metrics.RecordRefundSweep("skipped")
			s.logger.Info("Skipped expired product",
				zap.Int64("product_id", id),
				zap.String("reason", err.Error()),
			)
		default:
			metrics.RecordRefundSweep("error")
			s.logger.Error("Refund failed", zap.Int64("product_id", id), zap.Error(err))
		}
	}

	if len(ids) > 0 {
		s.logger.Info("Refund sweep finished",
			zap.Int("expired", len(ids)),
			zap.Int("refunded", refunded),
		)
	}
	return refunded
}
