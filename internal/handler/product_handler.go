package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crowdfund/internal/model"
	"crowdfund/internal/service/lifecycle"
	"crowdfund/pkg/logger"
)

// ProductCache 见 cache.ProductCache；为 nil 时直接读存储
type ProductCache interface {
	Get(ctx context.Context, id int64) (*model.Product, bool)
	Fill(ctx context.Context, id int64, load func(ctx context.Context, id int64) (*model.Product, error)) (*model.Product, error)
}

type ProductHandler struct {
	svc    *lifecycle.Service
	cache  ProductCache
	logger *zap.Logger
}

func NewProductHandler(svc *lifecycle.Service, cache ProductCache, logger *zap.Logger) *ProductHandler {
	return &ProductHandler{svc: svc, cache: cache, logger: logger}
}

type createProductRequest struct {
	Name        string             `json:"name" binding:"required"`
	Description string             `json:"description"`
	FundingGoal uint64             `json:"funding_goal"`
	Deadline    time.Time          `json:"deadline" binding:"required"`
	RewardTiers []model.RewardTier `json:"reward_tiers"`
	Milestones  []model.Milestone  `json:"milestones"`
}

// CreateProduct POST /products，创建者为调用方
func (h *ProductHandler) CreateProduct(c *gin.Context) {
	var req createProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.svc.CreateProduct(c.Request.Context(), lifecycle.CreateProductInput{
		Creator:     Caller(c),
		Name:        req.Name,
		Description: req.Description,
		FundingGoal: req.FundingGoal,
		Deadline:    req.Deadline,
		RewardTiers: req.RewardTiers,
		Milestones:  req.Milestones,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product_id": id})
}

// Contribute POST /products/:id/contributions
func (h *ProductHandler) Contribute(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.svc.Contribute(c.Request.Context(), Caller(c), id, req.Amount); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "contributed", "product_id": id})
}

// CompleteMilestone POST /products/:id/milestones/:mid/complete
func (h *ProductHandler) CompleteMilestone(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	mid, err := strconv.ParseUint(c.Param("mid"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mid"})
		return
	}

	if err := h.svc.UpdateMilestone(c.Request.Context(), Caller(c), id, uint32(mid)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed", "product_id": id, "milestone_id": mid})
}

// Distribute POST /products/:id/distribute
func (h *ProductHandler) Distribute(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DistributeFunds(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(model.StatusCompleted), "product_id": id})
}

// Refund POST /products/:id/refund
func (h *ProductHandler) Refund(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.svc.RefundContributors(c.Request.Context(), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(model.StatusFailed), "product_id": id})
}

// ClaimReward POST /products/:id/claims
func (h *ProductHandler) ClaimReward(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	claim, err := h.svc.ClaimReward(c.Request.Context(), Caller(c), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, claim)
}

// GetProduct GET /products/:id，优先读缓存
func (h *ProductHandler) GetProduct(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if h.cache != nil {
		if p, hit := h.cache.Get(ctx, id); hit {
			c.JSON(http.StatusOK, p)
			return
		}
	}

	var p *model.Product
	var err error
	if h.cache != nil {
		p, err = h.cache.Fill(ctx, id, h.svc.GetProduct)
	} else {
		p, err = h.svc.GetProduct(ctx, id)
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	logger.WithTrace(ctx, h.logger).Debug("Product loaded from store", zap.Int64("product_id", id))
	c.JSON(http.StatusOK, p)
}

func (h *ProductHandler) GetContributions(c *gin.Context) {
	listHandler(c, h.logger, h.svc.GetContributions)
}

func (h *ProductHandler) GetMilestones(c *gin.Context) {
	listHandler(c, h.logger, h.svc.GetMilestones)
}

func (h *ProductHandler) GetRewardTiers(c *gin.Context) {
	listHandler(c, h.logger, h.svc.GetRewardTiers)
}

func (h *ProductHandler) GetClaims(c *gin.Context) {
	listHandler(c, h.logger, h.svc.GetClaims)
}

// listHandler 接受任意 int64 ID；不存在的产品返回空列表
func listHandler[T any](c *gin.Context, log *zap.Logger, get func(context.Context, int64) ([]T, error)) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	items, err := get(c.Request.Context(), id)
	if err != nil {
		writeError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": id, "items": items})
}
