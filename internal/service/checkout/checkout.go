// internal/service/checkout/checkout.go
package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"paywall-service/internal/domain/content"
	"paywall-service/internal/domain/payment"
	plandomain "paywall-service/internal/domain/plan"
	promodomain "paywall-service/internal/domain/promo"
	"paywall-service/internal/domain/purchase"
	xerrors "paywall-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

type PlanReader interface {
	FindByID(ctx context.Context, id int64) (*plandomain.Plan, error)
}

type PolicySource interface {
	GetAccessPolicy(ctx context.Context, contentID int64) (*content.AccessPolicy, error)
}

type PendingWriter interface {
	CreatePending(ctx context.Context, p *purchase.PendingTransaction) error
	DeletePending(ctx context.Context, reference string) error
}

type PurchaseReader interface {
	FindByUserAndContent(ctx context.Context, userID, contentID int64) (*purchase.Record, error)
}

type PromoValidator interface {
	Validate(ctx context.Context, code string, planID int64) (*promodomain.Code, error)
}

// PriceSource is the slice of the access service checkout needs: the
// server-side price for a user and content policy.
type PriceSource interface {
	Price(ctx context.Context, userID int64, policy *content.AccessPolicy) (float64, int, error)
}

type SessionCreator interface {
	CreateSession(ctx context.Context, req *payment.SessionRequest) (*payment.Session, error)
}

// Service opens hosted payment sessions. It writes exactly one pending
// transaction per session and rolls it back if the provider call fails,
// so no orphaned pending rows are left behind.
type Service struct {
	plans     PlanReader
	policies  PolicySource
	pending   PendingWriter
	purchases PurchaseReader
	promos    PromoValidator
	pricer    PriceSource
	provider  SessionCreator
	logger    *zap.Logger
}

func NewService(
	plans PlanReader,
	policies PolicySource,
	pending PendingWriter,
	purchases PurchaseReader,
	promos PromoValidator,
	pricer PriceSource,
	sessionCreator SessionCreator,
	logger *zap.Logger,
) *Service {
	return &Service{
		plans:     plans,
		policies:  policies,
		pending:   pending,
		purchases: purchases,
		promos:    promos,
		pricer:    pricer,
		provider:  sessionCreator,
		logger:    logger,
	}
}

func mintReference() string {
	return "PAY-" + ulid.Make().String()
}

// StartSubscription opens a subscription checkout for the plan.
func (s *Service) StartSubscription(ctx context.Context, userID int64, req *payment.StartSubscriptionRequest) (*payment.CheckoutResponse, error) {
	p, err := s.plans.FindByID(ctx, req.PlanID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "subscription plan not found")
	}
	if !p.IsActive() {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "subscription plan is not active")
	}

	// Hidden plans are reachable only through a promo code listing them.
	if req.PromoCode != "" {
		if _, err := s.promos.Validate(ctx, req.PromoCode, p.ID); err != nil {
			return nil, err
		}
	} else if p.Hidden {
		return nil, xerrors.Wrap(xerrors.ErrInvalidPromo, "plan requires a promo code")
	}

	pendingTx := &purchase.PendingTransaction{
		Reference:      mintReference(),
		UserID:         userID,
		PlanID:         sql.NullInt64{Int64: p.ID, Valid: true},
		ExpectedAmount: p.Price,
		Currency:       p.Currency,
	}
	if req.PromoCode != "" {
		pendingTx.PromoCode = sql.NullString{String: req.PromoCode, Valid: true}
	}

	return s.openSession(ctx, pendingTx, &payment.SessionRequest{
		Reference:   pendingTx.Reference,
		Kind:        payment.KindSubscription,
		Amount:      p.Price,
		Currency:    p.Currency,
		Description: fmt.Sprintf("Subscription: %s", p.Name),
		PeriodDays:  p.PeriodDays,
	})
}

// StartPurchase opens a one-time purchase checkout for the content. The
// price is always recomputed server-side; req.QuotedPrice is never
// charged.
func (s *Service) StartPurchase(ctx context.Context, userID int64, req *payment.StartPurchaseRequest) (*payment.CheckoutResponse, error) {
	policy, err := s.policies.GetAccessPolicy(ctx, req.ContentID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "content not found")
	}
	if !policy.Purchasable() {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "content is not purchasable")
	}

	// Already-owned content must not open a second payable session.
	if _, err := s.purchases.FindByUserAndContent(ctx, userID, req.ContentID); err == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "content already purchased")
	} else if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, err
	}

	if req.PromoCode != "" {
		if _, err := s.promos.Validate(ctx, req.PromoCode, 0); err != nil {
			return nil, err
		}
	}

	price, discount, err := s.pricer.Price(ctx, userID, policy)
	if err != nil {
		return nil, err
	}
	if req.QuotedPrice != 0 && math.Abs(req.QuotedPrice-price) > 0.005 {
		s.logger.Warn("client quoted price differs from server price",
			zap.Int64("user_id", userID),
			zap.Int64("content_id", req.ContentID),
			zap.Float64("quoted", req.QuotedPrice),
			zap.Float64("server", price),
		)
	}

	pendingTx := &purchase.PendingTransaction{
		Reference:      mintReference(),
		UserID:         userID,
		ContentID:      sql.NullInt64{Int64: req.ContentID, Valid: true},
		ExpectedAmount: price,
		Currency:       policy.Currency,
	}
	if req.PromoCode != "" {
		pendingTx.PromoCode = sql.NullString{String: req.PromoCode, Valid: true}
	}

	description := fmt.Sprintf("Content purchase #%d", req.ContentID)
	if discount > 0 {
		description = fmt.Sprintf("%s (member discount %d%%)", description, discount)
	}

	return s.openSession(ctx, pendingTx, &payment.SessionRequest{
		Reference:   pendingTx.Reference,
		Kind:        payment.KindPurchase,
		Amount:      price,
		Currency:    policy.Currency,
		Description: description,
	})
}

// openSession writes the pending row, calls the provider, and rolls the
// row back if the provider call fails.
func (s *Service) openSession(ctx context.Context, pendingTx *purchase.PendingTransaction, sessionReq *payment.SessionRequest) (*payment.CheckoutResponse, error) {
	if err := s.pending.CreatePending(ctx, pendingTx); err != nil {
		return nil, err
	}

	session, err := s.provider.CreateSession(ctx, sessionReq)
	if err != nil {
		if delErr := s.pending.DeletePending(ctx, pendingTx.Reference); delErr != nil {
			// The TTL sweeper will reap it if this rollback also failed.
			s.logger.Error("failed to roll back pending transaction",
				zap.String("reference", pendingTx.Reference),
				zap.Error(delErr),
			)
		}
		return nil, err
	}

	s.logger.Info("checkout session opened",
		zap.String("reference", pendingTx.Reference),
		zap.Int64("user_id", pendingTx.UserID),
		zap.String("kind", string(sessionReq.Kind)),
		zap.Float64("amount", sessionReq.Amount),
	)

	return &payment.CheckoutResponse{
		Reference:   pendingTx.Reference,
		RedirectURL: session.RedirectURL,
	}, nil
}
