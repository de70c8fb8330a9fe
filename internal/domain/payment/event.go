// internal/domain/payment/event.go
package payment

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventInitial    EventType = "initial"
	EventRebill     EventType = "rebill"
	EventCancel     EventType = "cancel"
	EventDecline    EventType = "decline"
	EventChargeback EventType = "chargeback"
	EventExpire     EventType = "expire"
)

// Event is a provider webhook notification, correlated to a checkout
// session by Reference. Deliveries are at-least-once and may be reordered.
type Event struct {
	Reference             string    `json:"reference"`
	Type                  EventType `json:"event_type"`
	ProviderTransactionID string    `json:"provider_transaction_id"`
	Amount                float64   `json:"amount"`
	Currency              string    `json:"currency"`
	SubscriptionID        string    `json:"subscription_id,omitempty"`
	OccurredAt            time.Time `json:"occurred_at,omitempty"`
}

// ParseEvent decodes and minimally validates a raw webhook payload.
func ParseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("malformed webhook payload: %w", err)
	}
	if ev.Reference == "" {
		return nil, fmt.Errorf("webhook payload missing reference")
	}
	if ev.ProviderTransactionID == "" {
		return nil, fmt.Errorf("webhook payload missing provider_transaction_id")
	}
	switch ev.Type {
	case EventInitial, EventRebill, EventCancel, EventDecline, EventChargeback, EventExpire:
	default:
		return nil, fmt.Errorf("unknown event_type %q", ev.Type)
	}
	return &ev, nil
}
