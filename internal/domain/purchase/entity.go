// internal/domain/purchase/entity.go
package purchase

import (
	"database/sql"
	"time"
)

// Record is a confirmed one-time purchase. One row per (user, content),
// written exactly once and never mutated.
type Record struct {
	ID                    int64     `json:"id" db:"id"`
	UserID                int64     `json:"user_id" db:"user_id"`
	ContentID             int64     `json:"content_id" db:"content_id"`
	AmountPaid            float64   `json:"amount_paid" db:"amount_paid"`
	Currency              string    `json:"currency" db:"currency"`
	ProviderTransactionID string    `json:"provider_transaction_id" db:"provider_transaction_id"`
	PurchasedAt           time.Time `json:"purchased_at" db:"purchased_at"`
}

type PendingStatus string

const (
	PendingStatusPending PendingStatus = "pending"
	// Swept after the TTL; a stray webhook against an expired row is audited
	PendingStatusExpired PendingStatus = "expired"
)

// PendingTransaction is written at session creation and consumed exactly
// once by the webhook reconciler. Exactly one of ContentID / PlanID is set.
type PendingTransaction struct {
	Reference      string         `json:"reference" db:"reference"`
	UserID         int64          `json:"user_id" db:"user_id"`
	ContentID      sql.NullInt64  `json:"content_id,omitempty" db:"content_id"`
	PlanID         sql.NullInt64  `json:"plan_id,omitempty" db:"plan_id"`
	PromoCode      sql.NullString `json:"promo_code,omitempty" db:"promo_code"`
	ExpectedAmount float64        `json:"expected_amount" db:"expected_amount"`
	Currency       string         `json:"currency" db:"currency"`
	Status         PendingStatus  `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// ForSubscription reports whether this pending transaction was opened for
// a subscription session rather than a one-time purchase.
func (p *PendingTransaction) ForSubscription() bool {
	return p.PlanID.Valid
}
