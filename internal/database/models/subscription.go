package models

import (
	"time"

	"github.com/google/uuid"
)

type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanBusiness   Plan = "business"
	PlanEnterprise Plan = "enterprise"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

type Subscription struct {
	Base
	UserID uuid.UUID          `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Plan   Plan               `gorm:"not null;default:'free'" json:"plan"`
	Status SubscriptionStatus `gorm:"not null;default:'active'" json:"status"`

	CancelAtPeriodEnd bool  `gorm:"default:false" json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64 `json:"current_period_end,omitempty"`

	// Payment provider references
	ProviderCustomerID     string `gorm:"index" json:"-"`
	ProviderSubscriptionID string `gorm:"index" json:"-"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Entitled reports whether the subscription currently grants its plan's
// quota. Past-due and canceled subscriptions fall back to the free plan.
func (s *Subscription) Entitled() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}

// BillingPlanMapping maps provider-specific plan references (price IDs)
// to internal plans.
type BillingPlanMapping struct {
	Base
	Provider        string `gorm:"not null;uniqueIndex:ux_billing_plan_ref,priority:1" json:"provider"`
	ProviderPlanRef string `gorm:"not null;uniqueIndex:ux_billing_plan_ref,priority:2" json:"provider_plan_ref"`
	InternalPlan    Plan   `gorm:"not null;default:'free'" json:"internal_plan"`
	IsActive        bool   `gorm:"default:true" json:"is_active"`
}

func (BillingPlanMapping) TableName() string {
	return "billing_plan_mappings"
}

// QuotaPeriod tracks scan consumption for one user over one billing
// period. MonthlyLimit is snapshotted from the plan when the row is
// created so mid-period plan changes take effect next period.
type QuotaPeriod struct {
	Base
	UserID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:ux_quota_user_period,priority:1" json:"user_id"`
	PeriodStart  time.Time `gorm:"not null;uniqueIndex:ux_quota_user_period,priority:2" json:"period_start"`
	PeriodEnd    time.Time `gorm:"not null" json:"period_end"`
	MonthlyLimit int       `gorm:"not null" json:"monthly_limit"`
	UsedCount    int       `gorm:"not null;default:0" json:"used_count"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (QuotaPeriod) TableName() string {
	return "quota_periods"
}

func (q *QuotaPeriod) Remaining() int {
	r := q.MonthlyLimit - q.UsedCount
	if r < 0 {
		return 0
	}
	return r
}
