// internal/domain/content/entity.go
package content

type PolicyVariant string

const (
	VariantFree           PolicyVariant = "free"
	VariantPurchaseOnly   PolicyVariant = "purchase_only"
	VariantMembershipOnly PolicyVariant = "membership_only"
	VariantHybrid         PolicyVariant = "hybrid"
)

// AccessPolicy is the per-content access rule. It is owned by the
// content-authoring subsystem; this service only reads it.
type AccessPolicy struct {
	ContentID             int64         `json:"content_id" db:"content_id"`
	Variant               PolicyVariant `json:"variant" db:"variant"`
	BasePrice             float64       `json:"base_price" db:"base_price"`
	Currency              string        `json:"currency" db:"currency"`
	MemberDiscountPercent int           `json:"member_discount_percent" db:"member_discount_percent"`
}

// Purchasable reports whether the variant admits a one-time purchase at all.
func (p *AccessPolicy) Purchasable() bool {
	return p.Variant == VariantPurchaseOnly || p.Variant == VariantHybrid
}
