// internal/service/promo/promo.go
package promo

import (
	"context"
	"errors"
	"time"

	promodomain "paywall-service/internal/domain/promo"
	"paywall-service/internal/pkg/clock"
	xerrors "paywall-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type Repository interface {
	FindByCode(ctx context.Context, code string) (*promodomain.Code, error)
	RecordUsageWithTx(ctx context.Context, tx pgx.Tx, u *promodomain.Usage) error
}

// Registry validates promo codes at session creation and records usage
// only once a transaction is confirmed.
type Registry struct {
	repo   Repository
	clock  clock.Clock
	logger *zap.Logger
}

func NewRegistry(repo Repository, clk clock.Clock, logger *zap.Logger) *Registry {
	return &Registry{repo: repo, clock: clk, logger: logger}
}

// Validate checks the code against the plan. planID 0 means a one-time
// purchase session (only window and usage limits apply).
func (r *Registry) Validate(ctx context.Context, code string, planID int64) (*promodomain.Code, error) {
	p, err := r.repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.Wrap(xerrors.ErrInvalidPromo, "unknown promo code")
		}
		return nil, err
	}
	if err := p.EligibleFor(planID, r.clock.Now()); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordUsage appends to the usage log within the reconciler's
// transaction. Never called at session creation, so abandoned checkouts
// are not counted.
func (r *Registry) RecordUsage(ctx context.Context, tx pgx.Tx, code string, userID, planID int64, reference string, usedAt time.Time) error {
	usage := &promodomain.Usage{
		Code:           code,
		UserID:         userID,
		PlanID:         planID,
		TransactionRef: reference,
		UsedAt:         usedAt,
	}
	if err := r.repo.RecordUsageWithTx(ctx, tx, usage); err != nil {
		return err
	}
	r.logger.Info("promo usage recorded",
		zap.String("code", code),
		zap.Int64("user_id", userID),
		zap.String("reference", reference),
	)
	return nil
}
