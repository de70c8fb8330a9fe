// internal/handlers/webhook/webhook_handler.go
package webhook

import (
	"errors"
	"io"
	"net/http"

	xerrors "paywall-service/internal/pkg/errors"
	service "paywall-service/internal/service/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxPayloadBytes = 64 * 1024

// SignatureHeader carries the provider's hex HMAC of the raw body.
const SignatureHeader = "X-Payment-Signature"

type WebhookHandler struct {
	reconciler *service.Reconciler
	logger     *zap.Logger
}

func NewWebhookHandler(reconciler *service.Reconciler, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, logger: logger}
}

// HandleProviderEvent receives one webhook delivery. A 2xx response is a
// permanent acknowledgment; anything else makes the provider retry.
func (h *WebhookHandler) HandleProviderEvent(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}

	signature := c.GetHeader(SignatureHeader)

	err = h.reconciler.Handle(c.Request.Context(), rawBody, signature)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, xerrors.ErrAuthenticity):
		c.Status(http.StatusUnauthorized)
	default:
		// Our failure: let the provider retry.
		h.logger.Error("webhook processing failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}
