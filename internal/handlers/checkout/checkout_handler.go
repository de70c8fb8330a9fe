// internal/handlers/checkout/checkout_handler.go
package checkout

import (
	"errors"
	"net/http"

	"paywall-service/internal/domain/payment"
	"paywall-service/internal/middleware"
	xerrors "paywall-service/internal/pkg/errors"
	"paywall-service/internal/pkg/response"
	service "paywall-service/internal/service/checkout"
	"paywall-service/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type CheckoutHandler struct {
	checkoutService *service.Service
	hub             *ws.Hub
	logger          *zap.Logger
}

func NewCheckoutHandler(checkoutService *service.Service, hub *ws.Hub, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkoutService: checkoutService,
		hub:             hub,
		logger:          logger,
	}
}

// StartSubscription opens a hosted subscription checkout.
func (h *CheckoutHandler) StartSubscription(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req payment.StartSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.checkoutService.StartSubscription(c.Request.Context(), userID, &req)
	if err != nil {
		h.writeCheckoutError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, "checkout session created", result)
}

// StartPurchase opens a hosted one-time purchase checkout.
func (h *CheckoutHandler) StartPurchase(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req payment.StartPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	result, err := h.checkoutService.StartPurchase(c.Request.Context(), userID, &req)
	if err != nil {
		h.writeCheckoutError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, "checkout session created", result)
}

// WatchStatus upgrades to a websocket that receives the checkout outcome
// for a reference once the provider webhook is reconciled.
func (h *CheckoutHandler) WatchStatus(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		response.Error(c, http.StatusBadRequest, "missing reference", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn, reference)
	client.Start()
}

func (h *CheckoutHandler) writeCheckoutError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, xerrors.ErrInvalidPromo):
		response.Error(c, http.StatusBadRequest, "invalid promo code", err)
	case errors.Is(err, xerrors.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, "invalid checkout request", err)
	case errors.Is(err, xerrors.ErrUpstreamUnavailable):
		// Retryable: the pending transaction was rolled back.
		response.Error(c, http.StatusBadGateway, "payment provider unavailable, try again", err)
	default:
		response.Error(c, http.StatusInternalServerError, "failed to create checkout session", err)
	}
}
