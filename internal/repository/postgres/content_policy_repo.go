// internal/repository/postgres/content_policy_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"paywall-service/internal/domain/content"
	xerrors "paywall-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContentPolicyRepository is the read-only boundary to the content
// authoring subsystem's access policies.
type ContentPolicyRepository struct {
	db *pgxpool.Pool
}

func NewContentPolicyRepository(db *pgxpool.Pool) *ContentPolicyRepository {
	return &ContentPolicyRepository{db: db}
}

func (r *ContentPolicyRepository) GetAccessPolicy(ctx context.Context, contentID int64) (*content.AccessPolicy, error) {
	query := `
		SELECT content_id, variant, base_price, currency, member_discount_percent
		FROM content_access_policies
		WHERE content_id = $1
	`

	var p content.AccessPolicy
	err := r.db.QueryRow(ctx, query, contentID).Scan(
		&p.ContentID, &p.Variant, &p.BasePrice, &p.Currency, &p.MemberDiscountPercent,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access policy: %w", err)
	}
	return &p, nil
}
