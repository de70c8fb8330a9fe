// internal/service/access/evaluator.go
package access

import (
	"time"

	"paywall-service/internal/domain/content"
	"paywall-service/internal/domain/membership"
	"paywall-service/internal/domain/purchase"
)

type Reason string

const (
	ReasonBanned             Reason = "banned"
	ReasonFreeContent        Reason = "free_content"
	ReasonPurchased          Reason = "purchased"
	ReasonMemberAccess       Reason = "member_access"
	ReasonMembershipRequired Reason = "membership_required"
	ReasonPurchaseAvailable  Reason = "purchase_available"
)

// Decision is the access verdict for one (user, content) pair.
type Decision struct {
	HasAccess       bool    `json:"has_access"`
	ShowOffer       bool    `json:"show_purchase_offer"`
	Price           float64 `json:"price,omitempty"`
	DiscountPercent int     `json:"discount_percent,omitempty"`
	Reason          Reason  `json:"reason"`
}

// Evaluator maps (policy, membership, purchase) to a decision. Pure and
// deterministic given the passed-in time; safe on every content view.
type Evaluator struct {
	grace time.Duration
}

func NewEvaluator(gracePeriodDays int) *Evaluator {
	return &Evaluator{grace: time.Duration(gracePeriodDays) * 24 * time.Hour}
}

// Evaluate applies the policy rules in priority order. rec and purch may
// be nil for anonymous or purchase-less users.
func (e *Evaluator) Evaluate(policy *content.AccessPolicy, rec *membership.Record, purch *purchase.Record, now time.Time) Decision {
	// Banned is terminal: no access, no offers, anywhere.
	if rec.IsBanned() {
		return Decision{Reason: ReasonBanned}
	}

	if policy.Variant == content.VariantFree {
		return Decision{HasAccess: true, Reason: ReasonFreeContent}
	}

	// A confirmed purchase grants access regardless of variant.
	if purch != nil {
		return Decision{HasAccess: true, Reason: ReasonPurchased}
	}

	standing := rec.HasStanding(now, e.grace)

	switch policy.Variant {
	case content.VariantMembershipOnly:
		if standing {
			return Decision{HasAccess: true, Reason: ReasonMemberAccess}
		}
		// No purchase fallback: upsell to membership only.
		return Decision{Reason: ReasonMembershipRequired}

	case content.VariantPurchaseOnly:
		// Membership never grants purchase_only content.
		return Decision{
			ShowOffer: true,
			Price:     policy.BasePrice,
			Reason:    ReasonPurchaseAvailable,
		}

	case content.VariantHybrid:
		// Hybrid is purchasable by anyone; standing members only get the
		// discounted price, not access itself.
		price, discount := e.OfferPrice(policy, rec, now)
		return Decision{
			ShowOffer:       true,
			Price:           price,
			DiscountPercent: discount,
			Reason:          ReasonPurchaseAvailable,
		}
	}

	// Unknown variant: fail closed.
	return Decision{Reason: ReasonMembershipRequired}
}

// OfferPrice computes the purchase price the server will charge this user
// for the content, applying the member discount on hybrid policies for
// users in good standing. Used both for display and for server-side
// re-pricing at checkout.
func (e *Evaluator) OfferPrice(policy *content.AccessPolicy, rec *membership.Record, now time.Time) (float64, int) {
	if policy.Variant == content.VariantHybrid &&
		policy.MemberDiscountPercent > 0 &&
		rec.HasStanding(now, e.grace) {
		price := policy.BasePrice * (1 - float64(policy.MemberDiscountPercent)/100)
		return price, policy.MemberDiscountPercent
	}
	return policy.BasePrice, 0
}
