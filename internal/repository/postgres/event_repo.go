// internal/repository/postgres/event_repo.go
package postgres

import (
	"context"
	"fmt"

	"paywall-service/internal/domain/payment"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventRepository tracks processed provider transaction ids for
// idempotent reconciliation and keeps the manual-review audit trail.
type EventRepository struct {
	db *pgxpool.Pool
}

func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// MarkProcessedWithTx claims a provider transaction id inside the
// caller's transaction. Returns false when the id was already claimed,
// in which case the delivery is a duplicate and must not be re-applied.
// Because the claim commits together with the state transition, there is
// no window between check and write.
func (r *EventRepository) MarkProcessedWithTx(ctx context.Context, tx pgx.Tx, providerTxnID, reference string, eventType payment.EventType) (bool, error) {
	query := `
		INSERT INTO processed_events (provider_transaction_id, reference, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_transaction_id) DO NOTHING
	`

	tag, err := tx.Exec(ctx, query, providerTxnID, reference, eventType)
	if err != nil {
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertAudit records an acknowledged-but-unapplied webhook for manual
// review. Deliberately outside any transaction: the audit row must
// survive even when the event's own transaction rolled back.
func (r *EventRepository) InsertAudit(ctx context.Context, entry *payment.AuditEntry) error {
	query := `
		INSERT INTO webhook_audit (reference, event_type, reason, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query, entry.Reference, entry.EventType, entry.Reason, entry.Payload).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook audit entry: %w", err)
	}
	return nil
}

