package promo

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	xerrors "paywall-service/internal/pkg/errors"
)

func TestEligibleFor(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	base := func() *Code {
		return &Code{
			Code:           "SPRING20",
			AllowedPlanIDs: []int64{1, 3},
			StartsAt:       now.AddDate(0, -1, 0),
			Status:         CodeStatusActive,
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Code)
		planID  int64
		wantErr bool
	}{
		{"covered plan", func(c *Code) {}, 1, false},
		{"other covered plan", func(c *Code) {}, 3, false},
		{"uncovered plan", func(c *Code) {}, 2, true},
		{"purchase session ignores plan set", func(c *Code) {}, 0, false},
		{"inactive", func(c *Code) { c.Status = CodeStatusInactive }, 1, true},
		{"not started", func(c *Code) { c.StartsAt = now.Add(time.Hour) }, 1, true},
		{"expired", func(c *Code) {
			c.EndsAt = sql.NullTime{Time: now.Add(-time.Hour), Valid: true}
		}, 1, true},
		{"still in window", func(c *Code) {
			c.EndsAt = sql.NullTime{Time: now.Add(time.Hour), Valid: true}
		}, 1, false},
		{"usage cap reached", func(c *Code) {
			c.MaxUses = sql.NullInt32{Int32: 5, Valid: true}
			c.CurrentUses = 5
		}, 1, true},
		{"under usage cap", func(c *Code) {
			c.MaxUses = sql.NullInt32{Int32: 5, Valid: true}
			c.CurrentUses = 4
		}, 1, false},
		{"no cap means unlimited", func(c *Code) { c.CurrentUses = 100000 }, 1, false},
		{"expired code rejected for purchase too", func(c *Code) {
			c.EndsAt = sql.NullTime{Time: now.Add(-time.Hour), Valid: true}
		}, 0, true},
	}

	for _, tc := range cases {
		c := base()
		tc.mutate(c)
		err := c.EligibleFor(tc.planID, now)
		if tc.wantErr {
			if err == nil || !errors.Is(err, xerrors.ErrInvalidPromo) {
				t.Errorf("%s: err = %v, want ErrInvalidPromo", tc.name, err)
			}
		} else if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}
