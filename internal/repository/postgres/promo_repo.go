// internal/repository/postgres/promo_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"paywall-service/internal/domain/promo"
	xerrors "paywall-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PromoRepository struct {
	db *pgxpool.Pool
}

func NewPromoRepository(db *pgxpool.Pool) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	query := `
		SELECT id, code, allowed_plan_ids, starts_at, ends_at, max_uses, current_uses, status, created_at
		FROM promo_codes
		WHERE code = $1
	`

	var p promo.Code
	err := r.db.QueryRow(ctx, query, code).Scan(
		&p.ID, &p.Code, &p.AllowedPlanIDs, &p.StartsAt, &p.EndsAt,
		&p.MaxUses, &p.CurrentUses, &p.Status, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find promo code: %w", err)
	}
	return &p, nil
}

// RecordUsageWithTx appends a confirmed redemption and bumps the counter.
// Called only from the reconciler's transaction so abandoned checkouts
// never count.
func (r *PromoRepository) RecordUsageWithTx(ctx context.Context, tx pgx.Tx, u *promo.Usage) error {
	insert := `
		INSERT INTO promo_usages (code, user_id, plan_id, transaction_ref, used_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	if err := tx.QueryRow(ctx, insert, u.Code, u.UserID, u.PlanID, u.TransactionRef, u.UsedAt).Scan(&u.ID); err != nil {
		return fmt.Errorf("failed to record promo usage: %w", err)
	}

	bump := `UPDATE promo_codes SET current_uses = current_uses + 1 WHERE code = $1`
	if _, err := tx.Exec(ctx, bump, u.Code); err != nil {
		return fmt.Errorf("failed to increment promo uses: %w", err)
	}
	return nil
}
