// internal/repository/postgres/membership_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"paywall-service/internal/domain/membership"
	xerrors "paywall-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const membershipColumns = `
	user_id, status, plan_id, provider_subscription_id, checkout_reference,
	next_rebill_at, started_at, decline_count, version, created_at, updated_at`

type MembershipRepository struct {
	db *pgxpool.Pool
}

func NewMembershipRepository(db *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func scanMembership(row pgx.Row) (*membership.Record, error) {
	var rec membership.Record
	err := row.Scan(
		&rec.UserID, &rec.Status, &rec.PlanID, &rec.ProviderSubscriptionID, &rec.CheckoutReference,
		&rec.NextRebillAt, &rec.StartedAt, &rec.DeclineCount, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan membership: %w", err)
	}
	return &rec, nil
}

// SeedWithTx creates the initial status=none record at registration time.
func (r *MembershipRepository) SeedWithTx(ctx context.Context, tx pgx.Tx, userID int64) error {
	query := `
		INSERT INTO memberships (user_id, status)
		VALUES ($1, 'none')
	`
	if _, err := tx.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("failed to seed membership: %w", err)
	}
	return nil
}

func (r *MembershipRepository) FindByUser(ctx context.Context, userID int64) (*membership.Record, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE user_id = $1`
	return scanMembership(r.db.QueryRow(ctx, query, userID))
}

// FindByReferenceForUpdate resolves a membership by its original checkout
// reference or provider subscription id, locking the row for the duration
// of the transaction.
func (r *MembershipRepository) FindByReferenceForUpdate(ctx context.Context, tx pgx.Tx, reference, subscriptionID string) (*membership.Record, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM memberships
		WHERE checkout_reference = $1
		   OR (provider_subscription_id = $2 AND $2 <> '')
		FOR UPDATE
	`
	return scanMembership(tx.QueryRow(ctx, query, reference, subscriptionID))
}

// FindByUserForUpdate locks and returns the user's membership row.
func (r *MembershipRepository) FindByUserForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*membership.Record, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE user_id = $1 FOR UPDATE`
	return scanMembership(tx.QueryRow(ctx, query, userID))
}

// UpdateWithTx writes the record back conditionally on the version it was
// read at. A concurrent writer makes the update match zero rows, which is
// reported as a conflict so the caller retries or aborts.
func (r *MembershipRepository) UpdateWithTx(ctx context.Context, tx pgx.Tx, rec *membership.Record) error {
	query := `
		UPDATE memberships
		SET status = $1,
		    plan_id = $2,
		    provider_subscription_id = $3,
		    checkout_reference = $4,
		    next_rebill_at = $5,
		    started_at = $6,
		    decline_count = $7,
		    version = version + 1,
		    updated_at = NOW()
		WHERE user_id = $8 AND version = $9
	`

	tag, err := tx.Exec(ctx, query,
		rec.Status, rec.PlanID, rec.ProviderSubscriptionID, rec.CheckoutReference,
		rec.NextRebillAt, rec.StartedAt, rec.DeclineCount,
		rec.UserID, rec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.Wrap(xerrors.ErrConflict, "membership was modified concurrently")
	}
	rec.Version++
	return nil
}
