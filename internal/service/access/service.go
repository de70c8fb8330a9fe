// internal/service/access/service.go
package access

import (
	"context"
	"errors"

	"paywall-service/internal/domain/content"
	"paywall-service/internal/domain/membership"
	"paywall-service/internal/domain/purchase"
	"paywall-service/internal/pkg/clock"
	xerrors "paywall-service/internal/pkg/errors"

	"go.uber.org/zap"
)

type PolicySource interface {
	GetAccessPolicy(ctx context.Context, contentID int64) (*content.AccessPolicy, error)
}

type MembershipReader interface {
	FindByUser(ctx context.Context, userID int64) (*membership.Record, error)
}

type PurchaseReader interface {
	FindByUserAndContent(ctx context.Context, userID, contentID int64) (*purchase.Record, error)
}

// Service resolves the stores and delegates the decision to the pure
// evaluator. Read-only; runs at full request concurrency.
type Service struct {
	evaluator   *Evaluator
	policies    PolicySource
	memberships MembershipReader
	purchases   PurchaseReader
	clock       clock.Clock
	logger      *zap.Logger
}

func NewService(
	evaluator *Evaluator,
	policies PolicySource,
	memberships MembershipReader,
	purchases PurchaseReader,
	clk clock.Clock,
	logger *zap.Logger,
) *Service {
	return &Service{
		evaluator:   evaluator,
		policies:    policies,
		memberships: memberships,
		purchases:   purchases,
		clock:       clk,
		logger:      logger,
	}
}

// Check returns the access decision for one (user, content) pair.
func (s *Service) Check(ctx context.Context, userID, contentID int64) (*Decision, error) {
	policy, err := s.policies.GetAccessPolicy(ctx, contentID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.Wrap(xerrors.ErrNotFound, "content has no access policy")
		}
		return nil, err
	}

	rec, err := s.memberships.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}

	purch, err := s.purchases.FindByUserAndContent(ctx, userID, contentID)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}

	decision := s.evaluator.Evaluate(policy, rec, purch, s.clock.Now())
	return &decision, nil
}

// Price returns the server-side purchase price for the user and content.
// Checkout uses this instead of any client-supplied amount.
func (s *Service) Price(ctx context.Context, userID int64, policy *content.AccessPolicy) (float64, int, error) {
	rec, err := s.memberships.FindByUser(ctx, userID)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return 0, 0, err
	}
	price, discount := s.evaluator.OfferPrice(policy, rec, s.clock.Now())
	return price, discount, nil
}
