// internal/repository/postgres/blacklist_repo.go
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// BlacklistRepository holds contact identifiers banned after a
// chargeback. Registration consults it to block re-registration.
type BlacklistRepository struct {
	db *pgxpool.Pool
}

func NewBlacklistRepository(db *pgxpool.Pool) *BlacklistRepository {
	return &BlacklistRepository{db: db}
}

// AddWithTx blacklists a contact identifier inside the ban transaction,
// so the notification happens exactly once per ban transition.
func (r *BlacklistRepository) AddWithTx(ctx context.Context, tx pgx.Tx, contact, reason string) error {
	query := `
		INSERT INTO contact_blacklist (contact, reason)
		VALUES ($1, $2)
		ON CONFLICT (contact) DO NOTHING
	`
	if _, err := tx.Exec(ctx, query, contact, reason); err != nil {
		return fmt.Errorf("failed to blacklist contact: %w", err)
	}
	return nil
}

func (r *BlacklistRepository) Exists(ctx context.Context, contact string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM contact_blacklist WHERE contact = $1)`, contact).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists, nil
}
