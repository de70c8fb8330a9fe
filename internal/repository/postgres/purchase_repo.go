// internal/repository/postgres/purchase_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paywall-service/internal/domain/purchase"
	xerrors "paywall-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PurchaseRepository struct {
	db *pgxpool.Pool
}

func NewPurchaseRepository(db *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{db: db}
}

// InsertWithTx writes a confirmed purchase. The (user_id, content_id)
// unique index makes a double-grant impossible even if two initial events
// slip past the idempotency check with distinct transaction ids.
func (r *PurchaseRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, rec *purchase.Record) error {
	query := `
		INSERT INTO purchases (user_id, content_id, amount_paid, currency, provider_transaction_id, purchased_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, content_id) DO NOTHING
		RETURNING id
	`

	err := tx.QueryRow(ctx, query,
		rec.UserID, rec.ContentID, rec.AmountPaid, rec.Currency,
		rec.ProviderTransactionID, rec.PurchasedAt,
	).Scan(&rec.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return xerrors.Wrap(xerrors.ErrDuplicateEvent, "purchase already recorded")
	}
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

// FindByUserAndContent returns the confirmed purchase, or ErrNotFound.
func (r *PurchaseRepository) FindByUserAndContent(ctx context.Context, userID, contentID int64) (*purchase.Record, error) {
	query := `
		SELECT id, user_id, content_id, amount_paid, currency, provider_transaction_id, purchased_at
		FROM purchases
		WHERE user_id = $1 AND content_id = $2
	`

	var rec purchase.Record
	err := r.db.QueryRow(ctx, query, userID, contentID).Scan(
		&rec.ID, &rec.UserID, &rec.ContentID, &rec.AmountPaid,
		&rec.Currency, &rec.ProviderTransactionID, &rec.PurchasedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find purchase: %w", err)
	}
	return &rec, nil
}

// ListByUser returns all confirmed purchases of a user.
func (r *PurchaseRepository) ListByUser(ctx context.Context, userID int64) ([]*purchase.Record, error) {
	query := `
		SELECT id, user_id, content_id, amount_paid, currency, provider_transaction_id, purchased_at
		FROM purchases
		WHERE user_id = $1
		ORDER BY purchased_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var records []*purchase.Record
	for rows.Next() {
		var rec purchase.Record
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.ContentID, &rec.AmountPaid,
			&rec.Currency, &rec.ProviderTransactionID, &rec.PurchasedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// CreatePending records a fresh checkout session before the provider call.
func (r *PurchaseRepository) CreatePending(ctx context.Context, p *purchase.PendingTransaction) error {
	query := `
		INSERT INTO pending_transactions (reference, user_id, content_id, plan_id, promo_code, expected_amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING created_at
	`

	err := r.db.QueryRow(ctx, query,
		p.Reference, p.UserID, p.ContentID, p.PlanID, p.PromoCode,
		p.ExpectedAmount, p.Currency,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create pending transaction: %w", err)
	}
	p.Status = purchase.PendingStatusPending
	return nil
}

// DeletePending removes a pending row outside any transaction. Used to
// roll back when the provider session call fails.
func (r *PurchaseRepository) DeletePending(ctx context.Context, reference string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM pending_transactions WHERE reference = $1`, reference); err != nil {
		return fmt.Errorf("failed to delete pending transaction: %w", err)
	}
	return nil
}

// FindPendingForUpdate locks and returns the pending transaction for a
// reference, regardless of pending/expired status.
func (r *PurchaseRepository) FindPendingForUpdate(ctx context.Context, tx pgx.Tx, reference string) (*purchase.PendingTransaction, error) {
	query := `
		SELECT reference, user_id, content_id, plan_id, promo_code, expected_amount, currency, status, created_at
		FROM pending_transactions
		WHERE reference = $1
		FOR UPDATE
	`

	var p purchase.PendingTransaction
	err := tx.QueryRow(ctx, query, reference).Scan(
		&p.Reference, &p.UserID, &p.ContentID, &p.PlanID, &p.PromoCode,
		&p.ExpectedAmount, &p.Currency, &p.Status, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending transaction: %w", err)
	}
	return &p, nil
}

// ConsumePendingWithTx deletes the pending row once it has been converted
// into a purchase or membership update.
func (r *PurchaseRepository) ConsumePendingWithTx(ctx context.Context, tx pgx.Tx, reference string) error {
	tag, err := tx.Exec(ctx, `DELETE FROM pending_transactions WHERE reference = $1`, reference)
	if err != nil {
		return fmt.Errorf("failed to consume pending transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.Wrap(xerrors.ErrNotFound, "pending transaction already consumed")
	}
	return nil
}

// ExpirePendingOlderThan marks stale pending rows expired and returns how
// many were swept. Expired rows are kept as tombstones so a late webhook
// can be recognized and audited.
func (r *PurchaseRepository) ExpirePendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE pending_transactions
		SET status = 'expired'
		WHERE status = 'pending' AND created_at < $1
	`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire pending transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}
