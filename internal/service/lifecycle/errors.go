package lifecycle

import "errors"

// Kind 错误分类，HTTP 层据此映射状态码
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindBusinessRule  Kind = "business_rule"
)

// Error 是引擎拒绝一次调用时返回的业务错误
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

var (
	ErrUnauthenticated = newError(KindAuthorization, "Caller is not authenticated")
	ErrNotCreator      = newError(KindAuthorization, "Only the creator can update milestones")

	ErrAlreadyInitialized = newError(KindState, "Contract already initialized")
	ErrNotInitialized     = newError(KindState, "Contract not initialized")

	ErrInvalidGoal      = newError(KindValidation, "Funding goal must be greater than zero")
	ErrDeadlineInPast   = newError(KindValidation, "Deadline must be in the future")
	ErrZeroContribution = newError(KindValidation, "Contribution must be greater than zero")

	ErrProductNotFound   = newError(KindNotFound, "Product not found")
	ErrMilestoneNotFound = newError(KindNotFound, "Milestone not found")
	ErrNoContributions   = newError(KindNotFound, "No contributions found for this contributor")

	ErrNotActive       = newError(KindState, "Product is not active")
	ErrFundingEnded    = newError(KindState, "Funding period has ended")
	ErrNotFunded       = newError(KindState, "Product is not funded")
	ErrFundingNotEnded = newError(KindState, "Funding period has not ended")
	ErrNotCompleted    = newError(KindState, "Product is not completed")

	ErrExceedsGoal          = newError(KindBusinessRule, "Contribution would exceed funding goal")
	ErrMilestoneCompleted   = newError(KindBusinessRule, "Milestone already completed")
	ErrMilestonesIncomplete = newError(KindBusinessRule, "Not all milestones are completed")
	ErrNoEligibleTier       = newError(KindBusinessRule, "No eligible reward tier found")
	ErrAlreadyClaimed       = newError(KindBusinessRule, "Reward already claimed")
)

// KindOf 返回业务错误的分类；基础设施错误返回空字符串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
