// internal/domain/payment/audit.go
package payment

import "time"

// AuditEntry records a webhook that was acknowledged without being
// applied, so it can be reviewed manually instead of silently dropped.
type AuditEntry struct {
	ID        int64     `json:"id" db:"id"`
	Reference string    `json:"reference" db:"reference"`
	EventType string    `json:"event_type" db:"event_type"`
	Reason    string    `json:"reason" db:"reason"`
	Payload   []byte    `json:"payload" db:"payload"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
