package billing

import "github.com/richjun-project/vibescan/internal/database/models"

// Scans per billing period by plan.
var planLimits = map[models.Plan]int{
	models.PlanFree:       3,
	models.PlanStarter:    10,
	models.PlanPro:        50,
	models.PlanBusiness:   200,
	models.PlanEnterprise: 1000,
}

// MonthlyLimit returns the scan allowance for a plan. Unknown plans get
// the free allowance.
func MonthlyLimit(plan models.Plan) int {
	if limit, ok := planLimits[plan]; ok {
		return limit
	}
	return planLimits[models.PlanFree]
}

// EffectivePlan resolves the plan whose quota a subscription grants.
// A missing, past-due or canceled subscription degrades to free.
func EffectivePlan(sub *models.Subscription) models.Plan {
	if sub == nil || !sub.Entitled() {
		return models.PlanFree
	}
	return sub.Plan
}

// PaidReportUnlocked reports whether scans created under this
// subscription get the full report without a one-off purchase.
func PaidReportUnlocked(sub *models.Subscription) bool {
	return sub != nil && sub.Entitled() && sub.Plan != models.PlanFree
}
