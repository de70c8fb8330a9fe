// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"paywall-service/internal/config"
	"paywall-service/internal/db"
	accessHandler "paywall-service/internal/handlers/access"
	authHandler "paywall-service/internal/handlers/auth"
	checkoutHandler "paywall-service/internal/handlers/checkout"
	membershipHandler "paywall-service/internal/handlers/membership"
	planHandler "paywall-service/internal/handlers/plan"
	webhookHandler "paywall-service/internal/handlers/webhook"
	"paywall-service/internal/middleware"
	"paywall-service/internal/pkg/clock"
	"paywall-service/internal/pkg/lock"
	"paywall-service/internal/pkg/token"
	"paywall-service/internal/provider"
	"paywall-service/internal/repository/postgres"
	accessUsecase "paywall-service/internal/service/access"
	authUsecase "paywall-service/internal/service/auth"
	checkoutUsecase "paywall-service/internal/service/checkout"
	"paywall-service/internal/service/lifecycle"
	promoUsecase "paywall-service/internal/service/promo"
	reconcileUsecase "paywall-service/internal/service/reconcile"
	sweeperUsecase "paywall-service/internal/service/sweeper"
	"paywall-service/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger
}

func NewServer() *Server {
	cfg := config.Load()
	engine := gin.Default()
	return &Server{cfg: cfg, engine: engine}
}

func (s *Server) Start(ctx context.Context) error {
	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Println("[REDIS] connected")

	// ----- Logger -----
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	s.logger = logger

	clk := clock.System()

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	userRepo := postgres.NewUserRepository(pool)
	membershipRepo := postgres.NewMembershipRepository(pool)
	purchaseRepo := postgres.NewPurchaseRepository(pool)
	planRepo := postgres.NewPlanRepository(pool)
	policyRepo := postgres.NewContentPolicyRepository(pool)
	promoRepo := postgres.NewPromoRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	blacklistRepo := postgres.NewBlacklistRepository(pool)

	// ----- Checkout status hub -----
	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	// ----- Provider client -----
	providerClient := provider.NewClient(s.cfg.ProviderBaseURL, s.cfg.ProviderAPIKey, s.cfg.ProviderTimeout, logger)

	// ----- Services (Usecases) -----
	tokenManager := token.NewManager(s.cfg.JWT)
	authService := authUsecase.NewAuthService(
		dbWrapper,
		userRepo,
		membershipRepo,
		blacklistRepo,
		authUsecase.BcryptHasher{},
		tokenManager,
		logger,
	)

	evaluator := accessUsecase.NewEvaluator(s.cfg.GracePeriodDays)
	accessService := accessUsecase.NewService(evaluator, policyRepo, membershipRepo, purchaseRepo, clk, logger)

	promoRegistry := promoUsecase.NewRegistry(promoRepo, clk, logger)

	checkoutService := checkoutUsecase.NewService(
		planRepo,
		policyRepo,
		purchaseRepo,
		purchaseRepo,
		promoRegistry,
		accessService,
		providerClient,
		logger,
	)

	lifecycleManager := lifecycle.NewManager(s.cfg.DeclineThreshold)
	referenceLocker := lock.NewReferenceLocker(redisClient, 30*time.Second)

	reconciler := reconcileUsecase.NewReconciler(reconcileUsecase.Deps{
		DB:        dbWrapper,
		Events:    eventRepo,
		Pending:   purchaseRepo,
		Purchases: purchaseRepo,
		Members:   membershipRepo,
		Plans:     planRepo,
		Users:     userRepo,
		Blacklist: blacklistRepo,
		Promos:    promoRegistry,
		Lifecycle: lifecycleManager,
		Locker:    referenceLocker,
		Notifier:  hub,
		Verify: func(body []byte, signature string) bool {
			return provider.VerifySignature(s.cfg.WebhookSecret, body, signature)
		},
		Clock:  clk,
		Logger: logger,
	})

	sweeper := sweeperUsecase.New(purchaseRepo, s.cfg.PendingTTL, s.cfg.SweepInterval, clk, logger)
	go sweeper.Run(ctx)

	// ----- Handlers -----
	authHandlerInst := authHandler.NewAuthHandler(authService, logger)
	accessHandlerInst := accessHandler.NewAccessHandler(accessService)
	planHandlerInst := planHandler.NewPlanHandler(planRepo)
	checkoutHandlerInst := checkoutHandler.NewCheckoutHandler(checkoutService, hub, logger)
	webhookHandlerInst := webhookHandler.NewWebhookHandler(reconciler, logger)
	membershipHandlerInst := membershipHandler.NewMembershipHandler(membershipRepo, purchaseRepo)

	// ----- Middlewares -----
	authMiddleware := middleware.NewAuthMiddleware(authService)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(),
	)

	// ----- Router -----
	handlers := &Handlers{
		AuthHandler:       authHandlerInst,
		AccessHandler:     accessHandlerInst,
		PlanHandler:       planHandlerInst,
		CheckoutHandler:   checkoutHandlerInst,
		WebhookHandler:    webhookHandlerInst,
		MembershipHandler: membershipHandlerInst,
		AuthMiddleware:    authMiddleware,
	}
	SetupRouter(s.engine, logger, handlers)

	// ----- Start HTTP -----
	log.Printf("server running on %s", s.cfg.HTTPAddr)
	return s.engine.Run(s.cfg.HTTPAddr)
}
