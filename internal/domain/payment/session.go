// internal/domain/payment/session.go
package payment

type SessionKind string

const (
	KindSubscription SessionKind = "subscription"
	KindPurchase     SessionKind = "purchase"
)

// SessionRequest is sent to the provider to open a hosted payment page.
// The reference is echoed back in every webhook event for this session.
type SessionRequest struct {
	Reference   string      `json:"reference"`
	Kind        SessionKind `json:"kind"`
	Amount      float64     `json:"amount"`
	Currency    string      `json:"currency"`
	Description string      `json:"description"`
	// Rebill interval for subscription sessions, in days
	PeriodDays int `json:"period_days,omitempty"`
}

// Session is the provider's answer: an opaque hosted-checkout URL.
// No card data ever touches this service.
type Session struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url"`
}
