// internal/domain/membership/entity.go
package membership

import (
	"database/sql"
	"time"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusBanned    Status = "banned"
)

// Record is the per-user membership state. Its status field is mutated
// only through the lifecycle manager.
type Record struct {
	UserID                 int64          `json:"user_id" db:"user_id"`
	Status                 Status         `json:"status" db:"status"`
	PlanID                 sql.NullInt64  `json:"plan_id,omitempty" db:"plan_id"`
	ProviderSubscriptionID sql.NullString `json:"provider_subscription_id,omitempty" db:"provider_subscription_id"`
	// Reference minted at checkout; subsequent provider events correlate on it
	CheckoutReference sql.NullString `json:"checkout_reference,omitempty" db:"checkout_reference"`
	NextRebillAt      sql.NullTime   `json:"next_rebill_at,omitempty" db:"next_rebill_at"`
	StartedAt         sql.NullTime   `json:"started_at,omitempty" db:"started_at"`
	DeclineCount      int            `json:"decline_count" db:"decline_count"`
	// Bumped on every write; updates are conditional on the version read
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasStanding reports whether the member currently counts as paid-up:
// active, or cancelled and still inside the paid-through window plus the
// configured grace period. Banned never has standing.
func (r *Record) HasStanding(now time.Time, grace time.Duration) bool {
	if r == nil {
		return false
	}
	switch r.Status {
	case StatusActive:
		return true
	case StatusCancelled:
		return r.NextRebillAt.Valid && now.Before(r.NextRebillAt.Time.Add(grace))
	default:
		return false
	}
}

func (r *Record) IsBanned() bool {
	return r != nil && r.Status == StatusBanned
}
