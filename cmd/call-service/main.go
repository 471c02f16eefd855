package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	intDatabase "wavelink-backend/internal/database"
	callHandler "wavelink-backend/internal/handler/http/call"
	pushHandler "wavelink-backend/internal/handler/http/push"
	wsHandler "wavelink-backend/internal/handler/ws"
	"wavelink-backend/internal/middleware"
	"wavelink-backend/internal/registry"
	"wavelink-backend/internal/repository/cockroach"
	redisRepo "wavelink-backend/internal/repository/redis"
	callService "wavelink-backend/internal/service/call"
	"wavelink-backend/pkg/constants"
	pkgDatabase "wavelink-backend/pkg/database"
	"wavelink-backend/pkg/env"
	"wavelink-backend/pkg/jwt"
	"wavelink-backend/pkg/logger"
	"wavelink-backend/pkg/metrics"
	"wavelink-backend/pkg/push"
	"wavelink-backend/pkg/webrtc"
)

func main() {
	ctx := context.Background()

	logger.InitDefault()
	defer logger.Sync()

	productionMode := os.Getenv("ENV") == "production"

	// 1. JWT manager (tokens are issued by the auth service with this secret)
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		logger.Fatal("JWT_SECRET must be at least 32 characters")
	}
	jwtManager := jwt.NewJWTManager(jwtSecret, constants.AccessTokenExpiry)

	// 2. Durable call state store, with exponential backoff retry
	db := connectDatabase(ctx)
	defer db.Close()

	callRepo := cockroach.NewCallRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)

	// 3. Redis for presence, push tokens and the revocation blacklist
	redisClient := intDatabase.NewRedisClient(&intDatabase.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       env.GetInt("REDIS_DB", 0),
		PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
		Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
	})
	defer redisClient.Close()

	if err := redisClient.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, continuing in degraded mode", zap.Error(err))
	}
	redisClient.StartHealthCheck(ctx, 10*time.Second)

	presenceRepo := redisRepo.NewPresenceRepository(redisClient)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisClient)

	// 4. Push service
	pushSvc := push.NewService(newPushProvider(ctx, productionMode), pushTokenRepo)

	// 5. Metrics
	appMetrics := metrics.NewMetrics("call-service")
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 6. Connection registry and call orchestrator
	connRegistry := registry.New()
	callSvc := callService.NewService(callRepo, userRepo, connRegistry, pushSvc, appMetrics)

	// 7. Handlers
	rtcConfig := webrtc.NewConfig()
	callHdlr := callHandler.NewHandler(callSvc, rtcConfig)
	pushHdlr := pushHandler.NewHandler(pushTokenRepo)
	signalingHdlr := wsHandler.NewSignalingHandler(connRegistry, callSvc, presenceRepo, jwtManager, appMetrics)

	// 8. Router
	if productionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		poolStats := db.Stats()
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"redis":   !redisClient.IsDegraded(),
			"db_conns": gin.H{
				"total": poolStats.TotalConns(),
				"idle":  poolStats.IdleConns(),
			},
			"time": time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	revocationChecker := middleware.NewRedisRevocationChecker(redisClient)
	authMiddleware := middleware.AuthMiddleware(jwtManager, revocationChecker)

	calls := router.Group("/v1/calls")
	calls.Use(authMiddleware)
	{
		calls.POST("/initiate", callHdlr.InitiateCall)
		calls.GET("/history", callHdlr.GetCallHistory)
		calls.GET("/active", callHdlr.GetActiveCalls)
		calls.GET("/webrtc-config", callHdlr.GetWebRTCConfig)
		calls.GET("/:id", callHdlr.GetCall)
		calls.GET("/:id/invitations", callHdlr.GetInvitations)
		calls.POST("/:id/answer", callHdlr.AnswerCall)
		calls.POST("/:id/decline", callHdlr.DeclineCall)
		calls.POST("/:id/end", callHdlr.EndCall)
		calls.POST("/:id/invite", callHdlr.InviteToCall)
		calls.PATCH("/:id/media", callHdlr.UpdateMediaState)
	}

	pushTokens := router.Group("/v1/push")
	pushTokens.Use(authMiddleware)
	{
		pushTokens.POST("/tokens", pushHdlr.RegisterToken)
		pushTokens.DELETE("/tokens", pushHdlr.UnregisterToken)
	}

	// signaling connections authenticate via token query parameter
	router.GET("/v1/ws/signaling", signalingHdlr.ServeWS)

	// 9. Serve with graceful shutdown
	port := env.GetString("PORT", "8084")
	addr := fmt.Sprintf(":%s", port)

	logger.Info("call service starting",
		zap.String("addr", addr),
		zap.String("signaling", "/v1/ws/signaling"))

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, constants.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
}

func connectDatabase(ctx context.Context) *pkgDatabase.PostgresDB {
	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err := pkgDatabase.NewPostgresDBFromEnv(ctx)
	for attempt := 2; err != nil && attempt <= maxRetries; attempt++ {
		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > maxDelay {
			delay = maxDelay
		}
		logger.Warn("database connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		time.Sleep(delay)
		db, err = pkgDatabase.NewPostgresDBFromEnv(ctx)
	}
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	logger.Info("connected to database")
	return db
}

func newPushProvider(ctx context.Context, productionMode bool) push.Provider {
	providerType := env.GetString("PUSH_PROVIDER", "mock")

	switch providerType {
	case "firebase":
		projectID := env.GetStringFromFile("FIREBASE_PROJECT_ID", "")
		credentialsPath := env.GetString("FIREBASE_CREDENTIALS_PATH", "")
		if projectID == "" || credentialsPath == "" {
			if productionMode {
				logger.Fatal("FIREBASE_PROJECT_ID and FIREBASE_CREDENTIALS_PATH are required in production")
			}
			logger.Warn("firebase not configured, falling back to mock push provider")
			return &push.MockProvider{}
		}
		provider, err := push.NewFCMProvider(ctx, &push.FCMConfig{
			ProjectID:       projectID,
			CredentialsPath: credentialsPath,
		})
		if err != nil {
			if productionMode {
				logger.Fatal("failed to initialize FCM provider", zap.Error(err))
			}
			logger.Warn("FCM init failed, falling back to mock push provider", zap.Error(err))
			return &push.MockProvider{}
		}
		return provider

	case "apns":
		provider, err := push.NewAPNsProvider(&push.APNsConfig{
			KeyPath:    env.GetString("APNS_KEY_PATH", ""),
			KeyID:      env.GetStringFromFile("APNS_KEY_ID", ""),
			TeamID:     env.GetStringFromFile("APNS_TEAM_ID", ""),
			BundleID:   env.GetString("APNS_BUNDLE_ID", ""),
			Production: productionMode,
		})
		if err != nil {
			if productionMode {
				logger.Fatal("failed to initialize APNs provider", zap.Error(err))
			}
			logger.Warn("APNs init failed, falling back to mock push provider", zap.Error(err))
			return &push.MockProvider{}
		}
		return provider

	case "mock", "":
		if productionMode {
			logger.Fatal("PUSH_PROVIDER=mock is not allowed in production")
		}
		logger.Info("using mock push provider")
		return &push.MockProvider{}

	default:
		logger.Warn("unknown push provider, falling back to mock", zap.String("provider", providerType))
		return &push.MockProvider{}
	}
}
