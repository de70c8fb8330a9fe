// internal/domain/promo/entity.go
package promo

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	xerrors "paywall-service/internal/pkg/errors"
)

type CodeStatus string

const (
	CodeStatusActive   CodeStatus = "active"
	CodeStatusInactive CodeStatus = "inactive"
)

// Code gates access to the plans it lists. It never sets price.
type Code struct {
	ID             int64         `json:"id" db:"id"`
	Code           string        `json:"code" db:"code"`
	AllowedPlanIDs pq.Int64Array `json:"allowed_plan_ids" db:"allowed_plan_ids"`
	StartsAt       time.Time     `json:"starts_at" db:"starts_at"`
	EndsAt         sql.NullTime  `json:"ends_at,omitempty" db:"ends_at"`
	MaxUses        sql.NullInt32 `json:"max_uses,omitempty" db:"max_uses"`
	CurrentUses    int           `json:"current_uses" db:"current_uses"`
	Status         CodeStatus    `json:"status" db:"status"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}

// Usage is one confirmed redemption. Appended only after the provider
// confirms the transaction, never at session creation.
type Usage struct {
	ID             int64     `json:"id" db:"id"`
	Code           string    `json:"code" db:"code"`
	UserID         int64     `json:"user_id" db:"user_id"`
	PlanID         int64     `json:"plan_id" db:"plan_id"`
	TransactionRef string    `json:"transaction_ref" db:"transaction_ref"`
	UsedAt         time.Time `json:"used_at" db:"used_at"`
}

// EligibleFor checks whether the code can be applied to the given plan at
// the given time. planID 0 means a one-time purchase session, where only
// the window and usage limits apply.
func (c *Code) EligibleFor(planID int64, now time.Time) error {
	if c.Status != CodeStatusActive {
		return xerrors.Wrap(xerrors.ErrInvalidPromo, "code is not active")
	}
	if now.Before(c.StartsAt) {
		return xerrors.Wrap(xerrors.ErrInvalidPromo, "code is not yet valid")
	}
	if c.EndsAt.Valid && now.After(c.EndsAt.Time) {
		return xerrors.Wrap(xerrors.ErrInvalidPromo, "code has expired")
	}
	if c.MaxUses.Valid && c.CurrentUses >= int(c.MaxUses.Int32) {
		return xerrors.Wrap(xerrors.ErrInvalidPromo, "code usage limit reached")
	}
	if planID == 0 {
		return nil
	}
	for _, id := range c.AllowedPlanIDs {
		if id == planID {
			return nil
		}
	}
	return xerrors.Wrap(xerrors.ErrInvalidPromo, fmt.Sprintf("code does not cover plan %d", planID))
}
