package mq

import "time"

// 路由键，全部发布到 crowdfund.events topic exchange
const (
	RoutingProductCreated       = "product.created"
	RoutingContributionRecorded = "contribution.recorded"
	RoutingProductFunded        = "product.funded"
	RoutingMilestoneCompleted   = "milestone.completed"
	RoutingFundsDistributed     = "funds.distributed"
	RoutingProductRefunded      = "product.refunded"
	RoutingRewardClaimed        = "reward.claimed"
)

type ProductCreatedPayload struct {
	ProductID   int64     `json:"product_id"`
	Creator     string    `json:"creator"`
	Name        string    `json:"name"`
	FundingGoal uint64    `json:"funding_goal"`
	Deadline    time.Time `json:"deadline"`
	TraceID     string    `json:"trace_id,omitempty"`
}

type ContributionRecordedPayload struct {
	ProductID   int64  `json:"product_id"`
	Contributor string `json:"contributor"`
	Amount      uint64 `json:"amount"`
	TotalFunded uint64 `json:"total_funded"`
	TraceID     string `json:"trace_id,omitempty"`
}

type ProductFundedPayload struct {
	ProductID   int64  `json:"product_id"`
	TotalFunded uint64 `json:"total_funded"`
	TraceID     string `json:"trace_id,omitempty"`
}

type MilestoneCompletedPayload struct {
	ProductID   int64  `json:"product_id"`
	MilestoneID uint32 `json:"milestone_id"`
	TraceID     string `json:"trace_id,omitempty"`
}

// FundsDistributedPayload 由支付 worker 消费，向创建者转账
type FundsDistributedPayload struct {
	ProductID int64  `json:"product_id"`
	Creator   string `json:"creator"`
	Amount    uint64 `json:"amount"`
	TraceID   string `json:"trace_id,omitempty"`
}

type Refund struct {
	Contributor string `json:"contributor"`
	Amount      uint64 `json:"amount"`
}

// ProductRefundedPayload 携带被清空的出资记录，worker 逐笔退回
type ProductRefundedPayload struct {
	ProductID int64    `json:"product_id"`
	Refunds   []Refund `json:"refunds"`
	TraceID   string   `json:"trace_id,omitempty"`
}

type RewardClaimedPayload struct {
	ProductID    int64  `json:"product_id"`
	Claimant     string `json:"claimant"`
	TierID       uint32 `json:"tier_id"`
	Tier         string `json:"tier"`
	Discount     uint32 `json:"discount"`
	CredentialID string `json:"credential_id"`
	TraceID      string `json:"trace_id,omitempty"`
}
