// internal/domain/plan/entity.go
package plan

import "time"

type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "active"
	PlanStatusInactive PlanStatus = "inactive"
)

type Plan struct {
	ID       int64   `json:"id" db:"id"`
	Code     string  `json:"code" db:"code"`
	Name     string  `json:"name" db:"name"`
	Price    float64 `json:"price" db:"price"`
	Currency string  `json:"currency" db:"currency"`
	// Length of one billing period; next_rebill_at advances by this much
	PeriodDays int `json:"period_days" db:"period_days"`
	// Hidden plans are only reachable through a promo code that lists them
	Hidden    bool       `json:"hidden" db:"hidden"`
	Status    PlanStatus `json:"status" db:"status"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

func (p *Plan) IsActive() bool {
	return p.Status == PlanStatusActive
}
