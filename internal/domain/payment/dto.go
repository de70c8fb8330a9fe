// internal/domain/payment/dto.go
package payment

type StartSubscriptionRequest struct {
	PlanID    int64  `json:"plan_id" binding:"required"`
	PromoCode string `json:"promo_code,omitempty"`
}

type StartPurchaseRequest struct {
	ContentID int64  `json:"content_id" binding:"required"`
	PromoCode string `json:"promo_code,omitempty"`
	// Price the client displayed. Informational only: the server re-prices
	// and a mismatch is logged, never honored.
	QuotedPrice float64 `json:"quoted_price,omitempty"`
}

type CheckoutResponse struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}
