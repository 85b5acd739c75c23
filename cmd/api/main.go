package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"meridian-core-pos-layer/internal/application"
	"meridian-core-pos-layer/internal/application/batch"
	"meridian-core-pos-layer/internal/domain"
	"meridian-core-pos-layer/internal/infrastructure/encryption"
	"meridian-core-pos-layer/internal/infrastructure/metrics"
	posinfra "meridian-core-pos-layer/internal/infrastructure/pos"
	"meridian-core-pos-layer/internal/infrastructure/pubsub"
	"meridian-core-pos-layer/internal/infrastructure/repository"
	"meridian-core-pos-layer/internal/infrastructure/runlock"
	"meridian-core-pos-layer/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	// Initialize logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("⚠️  Warning: .env file not found")
	}

	// Get configuration from environment
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		mongoURI = "mongodb://localhost:27017"
	}

	// Connect to MongoDB
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(mongoURI))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())

	db := client.Database(os.Getenv("MONGODB_DATABASE"))

	// Connect to Redis (shared run guard)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Get encryption key
	encryptionKey := os.Getenv("ENCRYPTION_KEY")
	if encryptionKey == "" {
		logger.Fatal().Msg("ENCRYPTION_KEY environment variable is required")
	}

	// Initialize infrastructure (implementations)
	encryptionService, err := encryption.NewService(encryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}

	// Initialize repositories
	integrationRepo := repository.NewMongoIntegrationRepository(db)
	mappingRepo := repository.NewMongoMappingRepository(db)
	syncLogRepo := repository.NewMongoSyncLogRepository(db)
	reviewRepo := repository.NewMongoReviewRepository(db)
	inventoryRepo := repository.NewMongoInventoryRepository(db)

	// Initialize POS client
	posMode := domain.ModeSandbox
	if os.Getenv("POS_MODE") == "production" {
		posMode = domain.ModeProduction
	}
	posClientID := os.Getenv("POS_CLIENT_ID")
	posClientSecret := os.Getenv("POS_CLIENT_SECRET")
	if posClientID == "" || posClientSecret == "" {
		logger.Fatal().Msg("POS_CLIENT_ID and POS_CLIENT_SECRET environment variables are required")
	}
	posClient := posinfra.NewClient(posClientID, posClientSecret, posMode, logger)

	// Initialize application services
	refreshBuffer := time.Duration(getEnvInt("TOKEN_REFRESH_BUFFER_HOURS", 24)) * time.Hour
	tokenService := application.NewTokenService(
		integrationRepo,
		posClient,
		encryptionService,
		getEnv("POS_VENDOR", "square"),
		refreshBuffer,
		logger,
	)

	// Conflict engine factory: price goes through the threshold strategy,
	// every other field falls back to most-recent
	priceThreshold := getEnvFloat("PRICE_REVIEW_THRESHOLD", 10.0)
	newEngine := func() *application.ConflictEngine {
		engine := application.NewConflictEngine(logger)
		engine.RegisterStrategy("price_threshold", application.PriceThresholdStrategy(priceThreshold))
		engine.SetFieldRule("price", application.FieldRule{Rule: domain.RuleCustom, StrategyID: "price_threshold"})
		return engine
	}

	// Rate limiter factory, one instance per run
	perMinute := getEnvInt("POS_RATE_LIMIT_PER_MINUTE", 200)
	perSecond := getEnvInt("POS_RATE_LIMIT_PER_SECOND", 10)
	newLimiter := func() batch.Limiter {
		return posinfra.NewRateLimiter(perMinute, perSecond, logger)
	}

	// Distributed run guard
	lockTTL := time.Duration(getEnvInt("SYNC_LOCK_TTL_MINUTES", 30)) * time.Minute
	runGuard := runlock.NewRedisRunGuard(redisClient, lockTTL, logger)

	// Initialize sync event pub/sub
	syncPubSub := pubsub.NewSyncPubSub(logger)

	// Initialize metrics
	syncMetrics := metrics.New(prometheus.DefaultRegisterer)

	syncService := application.NewSyncService(application.SyncServiceConfig{
		Tokens:       tokenService,
		Catalog:      posClient,
		Inventory:    inventoryRepo,
		Integrations: integrationRepo,
		Mappings:     mappingRepo,
		SyncLogs:     syncLogRepo,
		Reviews:      reviewRepo,
		Guard:        runGuard,
		Events:       syncPubSub,
		NewEngine:    newEngine,
		NewLimiter:   newLimiter,
		Logger:       logger,
	})

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Sync routes
	r.Post("/sync/{tenantId}/import", syncHandler(syncService, syncMetrics, "import", logger))
	r.Post("/sync/{tenantId}/export", syncHandler(syncService, syncMetrics, "export", logger))
	r.Post("/sync/{tenantId}/full", syncHandler(syncService, syncMetrics, "full", logger))
	r.Get("/sync/{tenantId}/logs", syncLogsHandler(syncLogRepo, logger))
	r.Get("/sync/{tenantId}/reviews", listReviewsHandler(reviewRepo, logger))
	r.Delete("/sync/{tenantId}/reviews", clearReviewsHandler(reviewRepo, logger))

	// OAuth routes
	r.Post("/auth/{tenantId}/exchange", exchangeHandler(tokenService, logger))
	r.Post("/auth/{tenantId}/revoke", revokeHandler(tokenService, logger))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logger.Info().Str("port", port).Msg("Starting API server")
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}

// syncRequest is the optional JSON body accepted by the sync endpoints
type syncRequest struct {
	SyncType  string `json:"sync_type"`
	BatchSize int    `json:"batch_size"`
	DryRun    bool   `json:"dry_run"`
}

// syncHandler triggers a sync run in the given direction
func syncHandler(syncService *application.SyncService, syncMetrics *metrics.Metrics, direction string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		tenantID := chi.URLParam(r, "tenantId")
		if tenantID == "" {
			http.Error(w, "tenantId is required", http.StatusBadRequest)
			return
		}
		ctx = domain.WithTenantID(ctx, tenantID)

		var req syncRequest
		if r.Body != nil {
			// Body is optional; a decode failure on an empty body is fine
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		opts := application.SyncOptions{
			SyncType:  domain.SyncType(req.SyncType),
			BatchSize: req.BatchSize,
			DryRun:    req.DryRun,
		}

		var result *domain.SyncResult
		var err error
		switch direction {
		case "import":
			result, err = syncService.SyncFromRemote(ctx, tenantID, opts)
		case "export":
			result, err = syncService.SyncToRemote(ctx, tenantID, opts)
		default:
			result, err = syncService.SyncBidirectional(ctx, tenantID, opts)
		}

		if result != nil {
			status := "success"
			if err != nil || !result.Success {
				status = "error"
			}
			syncMetrics.ObserveRun(direction, status, result.ItemsSucceeded, result.ItemsFailed, result.Duration)
		}

		if err != nil {
			logger.Error().Err(err).Str("tenantId", tenantID).Str("direction", direction).Msg("Sync run failed")
			switch {
			case errors.Is(err, domain.ErrSyncInProgress):
				http.Error(w, "a sync run is already in progress for this tenant", http.StatusConflict)
			case domain.IsAuthError(err):
				http.Error(w, err.Error(), http.StatusUnauthorized)
			default:
				http.Error(w, "sync run failed: "+err.Error(), http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// syncLogsHandler returns the tenant's most recent sync log entries
func syncLogsHandler(syncLogs ports.SyncLogRepository, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantId")
		if tenantID == "" {
			http.Error(w, "tenantId is required", http.StatusBadRequest)
			return
		}

		limit := int64(50)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
				limit = parsed
			}
		}

		entries, err := syncLogs.GetByTenant(r.Context(), tenantID, limit)
		if err != nil {
			logger.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to list sync logs")
			http.Error(w, "failed to list sync logs", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"logs": entries})
	}
}

// listReviewsHandler returns the tenant's open conflict reviews
func listReviewsHandler(reviews ports.ReviewRepository, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantId")
		if tenantID == "" {
			http.Error(w, "tenantId is required", http.StatusBadRequest)
			return
		}

		open, err := reviews.ListOpen(r.Context(), tenantID)
		if err != nil {
			logger.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to list conflict reviews")
			http.Error(w, "failed to list conflict reviews", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"reviews": open})
	}
}

// clearReviewsHandler closes all open conflict reviews for a tenant
func clearReviewsHandler(reviews ports.ReviewRepository, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantId")
		if tenantID == "" {
			http.Error(w, "tenantId is required", http.StatusBadRequest)
			return
		}

		if err := reviews.Clear(r.Context(), tenantID); err != nil {
			logger.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to clear conflict reviews")
			http.Error(w, "failed to clear conflict reviews", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// exchangeHandler trades an OAuth authorization code for a stored integration
func exchangeHandler(tokenService *application.TokenService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantId")
		if tenantID == "" {
			http.Error(w, "tenantId is required", http.StatusBadRequest)
			return
		}

		var req struct {
			Code string `json:"code"`
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
			http.Error(w, "code is required", http.StatusBadRequest)
			return
		}

		mode := domain.ModeSandbox
		if req.Mode == string(domain.ModeProduction) {
			mode = domain.ModeProduction
		}

		integration, err := tokenService.ExchangeCode(r.Context(), tenantID, req.Code, mode)
		if err != nil {
			logger.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to exchange authorization code")
			if domain.IsAuthError(err) {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			http.Error(w, "failed to exchange authorization code", http.StatusInternalServerError)
			return
		}

		// Never echo token material back to the caller
		integration.EncryptedAccessToken = ""
		integration.EncryptedRefreshToken = ""

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(integration)
	}
}

// revokeHandler revokes the tenant's stored credentials and disables the
// integration
func revokeHandler(tokenService *application.TokenService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID := chi.URLParam(r, "tenantId")
		if tenantID == "" {
			http.Error(w, "tenantId is required", http.StatusBadRequest)
			return
		}

		if err := tokenService.Revoke(r.Context(), tenantID); err != nil {
			logger.Error().Err(err).Str("tenantId", tenantID).Msg("Failed to revoke integration")
			http.Error(w, "failed to revoke integration", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
