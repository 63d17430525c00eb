package model

import "time"

type ProductStatus string

const (
	StatusActive    ProductStatus = "active"    // 募资中
	StatusFunded    ProductStatus = "funded"    // 已达成目标，等待里程碑
	StatusCompleted ProductStatus = "completed" // 资金已发放
	StatusFailed    ProductStatus = "failed"    // 到期未达标，已退款
)

type Product struct {
	ID          int64         `json:"id"`
	Creator     string        `json:"creator"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	FundingGoal uint64        `json:"funding_goal"` // 最小货币单位
	Deadline    time.Time     `json:"deadline"`
	TotalFunded uint64        `json:"total_funded"`
	Status      ProductStatus `json:"status"`
}

// Remaining 距离目标还差的金额
func (p *Product) Remaining() uint64 {
	return p.FundingGoal - p.TotalFunded
}

type Contribution struct {
	Contributor string `json:"contributor"`
	Amount      uint64 `json:"amount"`
}

type Milestone struct {
	ID          uint32    `json:"id"` // 0 起的下标
	Description string    `json:"description"`
	TargetDate  time.Time `json:"target_date"`
	Completed   bool      `json:"completed"`
}

type RewardTier struct {
	ID              uint32 `json:"id"`
	MinContribution uint64 `json:"min_contribution"`
	Description     string `json:"description"`
	Discount        uint32 `json:"discount"` // 百分比
}

// RewardClaim 一次成功的奖励领取记录
type RewardClaim struct {
	ProductID    int64     `json:"product_id"`
	Claimant     string    `json:"claimant"`
	TierID       uint32    `json:"tier_id"`
	Tier         string    `json:"tier"`
	Discount     uint32    `json:"discount"`
	Total        uint64    `json:"total"`
	CredentialID string    `json:"credential_id"`
	ClaimedAt    time.Time `json:"claimed_at"`
}
