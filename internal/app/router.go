// internal/app/router.go
package app

import (
	accessHandler "paywall-service/internal/handlers/access"
	authHandler "paywall-service/internal/handlers/auth"
	checkoutHandler "paywall-service/internal/handlers/checkout"
	membershipHandler "paywall-service/internal/handlers/membership"
	planHandler "paywall-service/internal/handlers/plan"
	webhookHandler "paywall-service/internal/handlers/webhook"
	"paywall-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	AuthHandler       *authHandler.AuthHandler
	AccessHandler     *accessHandler.AccessHandler
	PlanHandler       *planHandler.PlanHandler
	CheckoutHandler   *checkoutHandler.CheckoutHandler
	WebhookHandler    *webhookHandler.WebhookHandler
	MembershipHandler *membershipHandler.MembershipHandler
	AuthMiddleware    *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "version": "1.0.0"})
	})

	// ==================== Provider Webhook ====================
	// Authenticated by payload signature, not bearer token.
	api.POST("/webhooks/payment", h.WebhookHandler.HandleProviderEvent)

	// ==================== Checkout Status Push ====================
	r.GET("/ws/checkout", h.CheckoutHandler.WatchStatus)

	// ==================== Public Auth Routes ====================
	auth := api.Group("/auth")
	{
		auth.POST("/register", h.AuthHandler.Register)
		auth.POST("/login", h.AuthHandler.Login)
	}

	// ==================== Subscription Plans ====================
	plans := api.Group("/plans")
	{
		plans.GET("", h.PlanHandler.ListPlans)
		plans.GET("/:id", h.PlanHandler.GetPlan)
	}

	// ==================== Content Access ====================
	content := api.Group("/content")
	content.Use(h.AuthMiddleware.Auth())
	{
		content.GET("/:content_id/access", h.AccessHandler.CheckAccess)
	}

	// ==================== Checkout ====================
	checkout := api.Group("/checkout")
	checkout.Use(h.AuthMiddleware.Auth())
	{
		checkout.POST("/subscription", h.CheckoutHandler.StartSubscription)
		checkout.POST("/purchase", h.CheckoutHandler.StartPurchase)
	}

	// ==================== Membership ====================
	membership := api.Group("/membership")
	membership.Use(h.AuthMiddleware.Auth())
	{
		membership.GET("", h.MembershipHandler.GetMembership)
		membership.GET("/purchases", h.MembershipHandler.ListPurchases)
	}
}
