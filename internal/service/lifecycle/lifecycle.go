// internal/service/lifecycle/lifecycle.go
package lifecycle

import (
	"database/sql"
	"fmt"
	"time"

	"paywall-service/internal/domain/membership"
	xerrors "paywall-service/internal/pkg/errors"
)

// Manager owns the only code path allowed to change a membership status.
// Each method validates the transition against the table below and
// mutates the record in place; persisting the result is the caller's job.
//
//	none      -> active
//	active    -> cancelled | expired | banned
//	cancelled -> active | expired | banned
//	expired   -> active
//	banned    -> (absorbing)
type Manager struct {
	declineThreshold int
}

func NewManager(declineThreshold int) *Manager {
	if declineThreshold <= 0 {
		declineThreshold = 3
	}
	return &Manager{declineThreshold: declineThreshold}
}

var transitions = map[membership.Status][]membership.Status{
	membership.StatusNone:      {membership.StatusActive},
	membership.StatusActive:    {membership.StatusCancelled, membership.StatusExpired, membership.StatusBanned},
	membership.StatusCancelled: {membership.StatusActive, membership.StatusExpired, membership.StatusBanned},
	membership.StatusExpired:   {membership.StatusActive},
	membership.StatusBanned:    {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to membership.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (m *Manager) guard(rec *membership.Record, to membership.Status) error {
	if !CanTransition(rec.Status, to) {
		return xerrors.Wrap(xerrors.ErrConflict,
			fmt.Sprintf("cannot transition membership of user %d from %s to %s", rec.UserID, rec.Status, to))
	}
	return nil
}

// Activate confirms a new or reactivated subscription.
func (m *Manager) Activate(rec *membership.Record, planID int64, subscriptionID, reference string, nextRebill, now time.Time) error {
	if err := m.guard(rec, membership.StatusActive); err != nil {
		return err
	}
	rec.Status = membership.StatusActive
	rec.PlanID = sql.NullInt64{Int64: planID, Valid: true}
	if subscriptionID != "" {
		rec.ProviderSubscriptionID = sql.NullString{String: subscriptionID, Valid: true}
	}
	if reference != "" {
		rec.CheckoutReference = sql.NullString{String: reference, Valid: true}
	}
	rec.NextRebillAt = sql.NullTime{Time: nextRebill, Valid: true}
	if !rec.StartedAt.Valid {
		rec.StartedAt = sql.NullTime{Time: now, Valid: true}
	}
	rec.DeclineCount = 0
	return nil
}

// Extend moves the paid-through date forward after a confirmed rebill.
// Only an active membership rebills; a rebill on cancelled must go
// through Activate (reactivation) instead.
func (m *Manager) Extend(rec *membership.Record, nextRebill time.Time) error {
	if rec.Status != membership.StatusActive {
		return xerrors.Wrap(xerrors.ErrConflict,
			fmt.Sprintf("cannot extend membership of user %d in status %s", rec.UserID, rec.Status))
	}
	rec.NextRebillAt = sql.NullTime{Time: nextRebill, Valid: true}
	rec.DeclineCount = 0
	return nil
}

// Cancel stops future rebills. Access persists until next_rebill_at.
func (m *Manager) Cancel(rec *membership.Record) error {
	if err := m.guard(rec, membership.StatusCancelled); err != nil {
		return err
	}
	rec.Status = membership.StatusCancelled
	return nil
}

// Expire ends the membership after the paid-through date lapses or the
// decline threshold is exhausted.
func (m *Manager) Expire(rec *membership.Record) error {
	if err := m.guard(rec, membership.StatusExpired); err != nil {
		return err
	}
	rec.Status = membership.StatusExpired
	return nil
}

// Ban is the terminal chargeback transition. Nothing leaves banned.
func (m *Manager) Ban(rec *membership.Record) error {
	if err := m.guard(rec, membership.StatusBanned); err != nil {
		return err
	}
	rec.Status = membership.StatusBanned
	return nil
}

// RecordDecline counts a failed rebill attempt. The status is untouched
// until the configured threshold is reached, then the membership expires.
// Returns true when the decline caused expiry.
func (m *Manager) RecordDecline(rec *membership.Record) (bool, error) {
	if rec.Status != membership.StatusActive && rec.Status != membership.StatusCancelled {
		return false, xerrors.Wrap(xerrors.ErrConflict,
			fmt.Sprintf("cannot record decline for user %d in status %s", rec.UserID, rec.Status))
	}
	rec.DeclineCount++
	if rec.DeclineCount >= m.declineThreshold {
		if err := m.Expire(rec); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}
