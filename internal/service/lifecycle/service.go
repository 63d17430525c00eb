// Package lifecycle implements the crowdfunding product state machine.
//
// Every entry point runs in a single store.Update transaction. Validation
// happens before the first write, so a rejected call leaves no trace in the
// store and emits no events.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "crowdfund/contracts/mq"
	"crowdfund/internal/clock"
	"crowdfund/internal/model"
	"crowdfund/internal/store"
	"crowdfund/pkg/logger"
	"crowdfund/pkg/metrics"
	"crowdfund/pkg/trace"
)

const (
	metaAdmin  = "admin"
	metaNextID = "next_product_id"
)

// Authenticator 确认调用方就是其声明的身份
type Authenticator interface {
	RequireAuthenticated(ctx context.Context, identity string) error
}

type Service struct {
	store  store.Store
	authn  Authenticator
	clock  clock.Clock
	logger *zap.Logger

	newCredentialID func() string
	afterCommit     func(ctx context.Context, productID int64)
}

type Option func(*Service)

// WithCredentialIDs 替换奖励凭证 ID 生成器（默认 uuid）
func WithCredentialIDs(fn func() string) Option {
	return func(s *Service) { s.newCredentialID = fn }
}

// WithAfterCommit 注册提交成功后的回调，用于失效产品缓存
func WithAfterCommit(fn func(ctx context.Context, productID int64)) Option {
	return func(s *Service) { s.afterCommit = fn }
}

func NewService(st store.Store, authn Authenticator, clk clock.Clock, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:           st,
		authn:           authn,
		clock:           clk,
		logger:          logger,
		newCredentialID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateProductInput struct {
	Creator     string
	Name        string
	Description string
	FundingGoal uint64
	Deadline    time.Time
	RewardTiers []model.RewardTier
	Milestones  []model.Milestone
}

// Initialize 记录管理员并把产品 ID 计数器置为 1，只能调用一次
func (s *Service) Initialize(ctx context.Context, admin string) error {
	const op = "initialize"
	if err := s.authenticate(ctx, admin); err != nil {
		return s.finish(ctx, op, 0, err)
	}

	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		var existing string
		found, err := tx.Get(ctx, store.MetaKey(metaAdmin), &existing)
		if err != nil {
			return err
		}
		if found {
			return ErrAlreadyInitialized
		}
		if err := tx.Put(ctx, store.MetaKey(metaAdmin), admin); err != nil {
			return err
		}
		return tx.Put(ctx, store.MetaKey(metaNextID), int64(1))
	})
	return s.finish(ctx, op, 0, err)
}

func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (int64, error) {
	const op = "create_product"
	if err := s.authenticate(ctx, in.Creator); err != nil {
		return 0, s.finish(ctx, op, 0, err)
	}

	now := s.clock.Now()
	if in.FundingGoal == 0 {
		return 0, s.finish(ctx, op, 0, ErrInvalidGoal)
	}
	if !in.Deadline.After(now) {
		return 0, s.finish(ctx, op, 0, ErrDeadlineInPast)
	}

	var id int64
	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		found, err := tx.Get(ctx, store.MetaKey(metaNextID), &id)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotInitialized
		}

		product := model.Product{
			ID:          id,
			Creator:     in.Creator,
			Name:        in.Name,
			Description: in.Description,
			FundingGoal: in.FundingGoal,
			Deadline:    in.Deadline,
			Status:      model.StatusActive,
		}
		tiers := in.RewardTiers
		if tiers == nil {
			tiers = []model.RewardTier{}
		}
		milestones := in.Milestones
		if milestones == nil {
			milestones = []model.Milestone{}
		}

		writes := []struct {
			key   store.Key
			value any
		}{
			{store.MetaKey(metaNextID), id + 1},
			{store.ProductKey(id), product},
			{store.RewardTiersKey(id), tiers},
			{store.MilestonesKey(id), milestones},
			{store.ContributionsKey(id), []model.Contribution{}},
		}
		for _, w := range writes {
			if err := tx.Put(ctx, w.key, w.value); err != nil {
				return err
			}
		}

		return tx.Emit(ctx, mqcontracts.RoutingProductCreated, id, mqcontracts.ProductCreatedPayload{
			ProductID:   id,
			Creator:     in.Creator,
			Name:        in.Name,
			FundingGoal: in.FundingGoal,
			Deadline:    in.Deadline,
			TraceID:     trace.FromContext(ctx),
		})
	})
	if err != nil {
		return 0, s.finish(ctx, op, 0, err)
	}
	return id, s.finish(ctx, op, id, nil)
}

func (s *Service) Contribute(ctx context.Context, contributor string, productID int64, amount uint64) error {
	const op = "contribute"
	if err := s.authenticate(ctx, contributor); err != nil {
		return s.finish(ctx, op, productID, err)
	}

	now := s.clock.Now()
	var funded bool
	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product.Status != model.StatusActive {
			return ErrNotActive
		}
		if !now.Before(product.Deadline) {
			return ErrFundingEnded
		}
		if amount == 0 {
			return ErrZeroContribution
		}
		// 写成减法避免 uint64 溢出
		if amount > product.Remaining() {
			return ErrExceedsGoal
		}

		var contributions []model.Contribution
		if _, err := tx.Get(ctx, store.ContributionsKey(productID), &contributions); err != nil {
			return err
		}
		contributions = append(contributions, model.Contribution{Contributor: contributor, Amount: amount})
		if err := tx.Put(ctx, store.ContributionsKey(productID), contributions); err != nil {
			return err
		}

		product.TotalFunded += amount
		if product.TotalFunded == product.FundingGoal {
			product.Status = model.StatusFunded
			funded = true
		}
		if err := tx.Put(ctx, store.ProductKey(productID), product); err != nil {
			return err
		}

		traceID := trace.FromContext(ctx)
		if err := tx.Emit(ctx, mqcontracts.RoutingContributionRecorded, productID, mqcontracts.ContributionRecordedPayload{
			ProductID:   productID,
			Contributor: contributor,
			Amount:      amount,
			TotalFunded: product.TotalFunded,
			TraceID:     traceID,
		}); err != nil {
			return err
		}
		if !funded {
			return nil
		}
		return tx.Emit(ctx, mqcontracts.RoutingProductFunded, productID, mqcontracts.ProductFundedPayload{
			ProductID:   productID,
			TotalFunded: product.TotalFunded,
			TraceID:     traceID,
		})
	})
	if err == nil {
		metrics.AddContributed(amount)
		if funded {
			metrics.RecordTransition(string(model.StatusActive), string(model.StatusFunded))
		}
	}
	return s.finish(ctx, op, productID, err)
}

// UpdateMilestone 由创建者标记里程碑完成；不会自动改变产品状态
func (s *Service) UpdateMilestone(ctx context.Context, caller string, productID int64, milestoneID uint32) error {
	const op = "update_milestone"
	if err := s.authenticate(ctx, caller); err != nil {
		return s.finish(ctx, op, productID, err)
	}

	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if caller != product.Creator {
			return ErrNotCreator
		}
		if product.Status != model.StatusFunded {
			return ErrNotFunded
		}

		var milestones []model.Milestone
		if _, err := tx.Get(ctx, store.MilestonesKey(productID), &milestones); err != nil {
			return err
		}
		if uint64(milestoneID) >= uint64(len(milestones)) {
			return ErrMilestoneNotFound
		}
		if milestones[milestoneID].Completed {
			return ErrMilestoneCompleted
		}
		milestones[milestoneID].Completed = true
		if err := tx.Put(ctx, store.MilestonesKey(productID), milestones); err != nil {
			return err
		}

		return tx.Emit(ctx, mqcontracts.RoutingMilestoneCompleted, productID, mqcontracts.MilestoneCompletedPayload{
			ProductID:   productID,
			MilestoneID: milestoneID,
			TraceID:     trace.FromContext(ctx),
		})
	})
	return s.finish(ctx, op, productID, err)
}

// DistributeFunds 任何调用方都可以触发；转账由支付 worker 消费 funds.distributed 完成
func (s *Service) DistributeFunds(ctx context.Context, productID int64) error {
	const op = "distribute_funds"

	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product.Status != model.StatusFunded {
			return ErrNotFunded
		}

		var milestones []model.Milestone
		if _, err := tx.Get(ctx, store.MilestonesKey(productID), &milestones); err != nil {
			return err
		}
		for _, m := range milestones {
			if !m.Completed {
				return ErrMilestonesIncomplete
			}
		}

		product.Status = model.StatusCompleted
		if err := tx.Put(ctx, store.ProductKey(productID), product); err != nil {
			return err
		}

		return tx.Emit(ctx, mqcontracts.RoutingFundsDistributed, productID, mqcontracts.FundsDistributedPayload{
			ProductID: productID,
			Creator:   product.Creator,
			Amount:    product.TotalFunded,
			TraceID:   trace.FromContext(ctx),
		})
	})
	if err == nil {
		metrics.RecordTransition(string(model.StatusFunded), string(model.StatusCompleted))
	}
	return s.finish(ctx, op, productID, err)
}

// RefundContributors 截止后仍未达标时把产品置为 failed 并清空出资记录
func (s *Service) RefundContributors(ctx context.Context, productID int64) error {
	const op = "refund_contributors"

	now := s.clock.Now()
	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product.Status != model.StatusActive {
			return ErrNotActive
		}
		if now.Before(product.Deadline) {
			return ErrFundingNotEnded
		}

		var contributions []model.Contribution
		if _, err := tx.Get(ctx, store.ContributionsKey(productID), &contributions); err != nil {
			return err
		}

		product.Status = model.StatusFailed
		if err := tx.Put(ctx, store.ProductKey(productID), product); err != nil {
			return err
		}
		if err := tx.Delete(ctx, store.ContributionsKey(productID)); err != nil {
			return err
		}

		refunds := make([]mqcontracts.Refund, 0, len(contributions))
		for _, c := range contributions {
			refunds = append(refunds, mqcontracts.Refund{Contributor: c.Contributor, Amount: c.Amount})
		}
		return tx.Emit(ctx, mqcontracts.RoutingProductRefunded, productID, mqcontracts.ProductRefundedPayload{
			ProductID: productID,
			Refunds:   refunds,
			TraceID:   trace.FromContext(ctx),
		})
	})
	if err == nil {
		metrics.RecordTransition(string(model.StatusActive), string(model.StatusFailed))
	}
	return s.finish(ctx, op, productID, err)
}

// ClaimReward 按累计出资选出门槛最高且不超过累计额的奖励档位；每个出资人只能领取一次
func (s *Service) ClaimReward(ctx context.Context, claimant string, productID int64) (*model.RewardClaim, error) {
	const op = "claim_reward"
	if err := s.authenticate(ctx, claimant); err != nil {
		return nil, s.finish(ctx, op, productID, err)
	}

	now := s.clock.Now()
	var claim model.RewardClaim
	err := s.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		product, err := loadProduct(ctx, tx, productID)
		if err != nil {
			return err
		}
		if product.Status != model.StatusCompleted {
			return ErrNotCompleted
		}

		var contributions []model.Contribution
		if _, err := tx.Get(ctx, store.ContributionsKey(productID), &contributions); err != nil {
			return err
		}
		var total uint64
		var found bool
		for _, c := range contributions {
			if c.Contributor == claimant {
				total += c.Amount
				found = true
			}
		}
		if !found {
			return ErrNoContributions
		}

		var tiers []model.RewardTier
		if _, err := tx.Get(ctx, store.RewardTiersKey(productID), &tiers); err != nil {
			return err
		}
		tier, ok := selectTier(tiers, total)
		if !ok {
			return ErrNoEligibleTier
		}

		var previous model.RewardClaim
		claimed, err := tx.Get(ctx, store.ClaimKey(productID, claimant), &previous)
		if err != nil {
			return err
		}
		if claimed {
			return ErrAlreadyClaimed
		}

		claim = model.RewardClaim{
			ProductID:    productID,
			Claimant:     claimant,
			TierID:       tier.ID,
			Tier:         tier.Description,
			Discount:     tier.Discount,
			Total:        total,
			CredentialID: s.newCredentialID(),
			ClaimedAt:    now,
		}
		if err := tx.Put(ctx, store.ClaimKey(productID, claimant), claim); err != nil {
			return err
		}

		return tx.Emit(ctx, mqcontracts.RoutingRewardClaimed, productID, mqcontracts.RewardClaimedPayload{
			ProductID:    productID,
			Claimant:     claimant,
			TierID:       tier.ID,
			Tier:         tier.Description,
			Discount:     tier.Discount,
			CredentialID: claim.CredentialID,
			TraceID:      trace.FromContext(ctx),
		})
	})
	if err != nil {
		return nil, s.finish(ctx, op, productID, err)
	}
	return &claim, s.finish(ctx, op, productID, nil)
}

// selectTier 同门槛时取列表中靠前的档位
func selectTier(tiers []model.RewardTier, total uint64) (model.RewardTier, bool) {
	var best model.RewardTier
	var ok bool
	for _, t := range tiers {
		if t.MinContribution > total {
			continue
		}
		if !ok || t.MinContribution > best.MinContribution {
			best, ok = t, true
		}
	}
	return best, ok
}

func (s *Service) GetProduct(ctx context.Context, productID int64) (*model.Product, error) {
	var product *model.Product
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		product, err = loadProduct(ctx, tx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Service) GetContributions(ctx context.Context, productID int64) ([]model.Contribution, error) {
	return getList[model.Contribution](ctx, s.store, store.ContributionsKey(productID))
}

func (s *Service) GetMilestones(ctx context.Context, productID int64) ([]model.Milestone, error) {
	return getList[model.Milestone](ctx, s.store, store.MilestonesKey(productID))
}

func (s *Service) GetRewardTiers(ctx context.Context, productID int64) ([]model.RewardTier, error) {
	return getList[model.RewardTier](ctx, s.store, store.RewardTiersKey(productID))
}

// GetClaims 按领取人排序返回已记录的奖励领取
func (s *Service) GetClaims(ctx context.Context, productID int64) ([]model.RewardClaim, error) {
	claims := []model.RewardClaim{}
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.List(ctx, store.KindClaim, productID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			c, err := store.Decode[model.RewardClaim](e)
			if err != nil {
				return err
			}
			claims = append(claims, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ListExpired 返回已过截止时间但仍为 active 的产品 ID，供退款 sweeper 使用
func (s *Service) ListExpired(ctx context.Context) ([]int64, error) {
	now := s.clock.Now()
	var ids []int64
	err := s.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		entries, err := tx.List(ctx, store.KindProduct, 0)
		if err != nil {
			return err
		}
		for _, e := range entries {
			p, err := store.Decode[model.Product](e)
			if err != nil {
				return err
			}
			if p.Status == model.StatusActive && !now.Before(p.Deadline) {
				ids = append(ids, p.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func getList[T any](ctx context.Context, st store.Store, key store.Key) ([]T, error) {
	items := []T{}
	err := st.View(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Get(ctx, key, &items)
		return err
	})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func loadProduct(ctx context.Context, tx store.Tx, productID int64) (*model.Product, error) {
	var p model.Product
	found, err := tx.Get(ctx, store.ProductKey(productID), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

func (s *Service) authenticate(ctx context.Context, identity string) error {
	if err := s.authn.RequireAuthenticated(ctx, identity); err != nil {
		logger.WithTrace(ctx, s.logger).Debug("Authentication failed",
			zap.String("identity", identity),
			zap.Error(err),
		)
		return ErrUnauthenticated
	}
	return nil
}

// finish 记录指标与日志；提交成功时触发 afterCommit
func (s *Service) finish(ctx context.Context, op string, productID int64, err error) error {
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("operation", op),
		zap.Int64("product_id", productID),
	)

	var lerr *Error
	switch {
	case err == nil:
		metrics.RecordOperation(op, "ok")
		log.Info("Lifecycle operation committed")
		if s.afterCommit != nil && productID != 0 {
			s.afterCommit(ctx, productID)
		}
	case errors.As(err, &lerr):
		metrics.RecordOperation(op, "rejected")
		log.Warn("Lifecycle operation rejected",
			zap.String("error_kind", string(lerr.Kind)),
			zap.String("reason", lerr.Message),
		)
	default:
		metrics.RecordOperation(op, "error")
		log.Error("Lifecycle operation failed", zap.Error(err))
	}
	return err
}
