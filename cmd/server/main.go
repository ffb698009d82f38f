package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leaderboard-system/internal/audit"
	"leaderboard-system/internal/broadcast"
	"leaderboard-system/internal/config"
	"leaderboard-system/internal/db"
	"leaderboard-system/internal/eventbus"
	"leaderboard-system/internal/handlers"
	"leaderboard-system/internal/middleware"
	"leaderboard-system/internal/observability"
	"leaderboard-system/internal/ranking"
	"leaderboard-system/internal/services"
	"leaderboard-system/internal/store"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

func main() {
	logger := observability.NewLogger("server")

	// Load configuration
	if err := config.LoadDotEnv(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to read .env")
	}
	env := config.GetEnv()
	cfg, err := config.Load(env)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load config")
	}

	logger.Info().Str("environment", cfg.Environment).Msg("Starting leaderboard server")

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// Connect to MongoDB
	mongodb, err := db.NewMongoDB(cfg.MongoDB.URI, cfg.MongoDB.Database, db.MongoOptions{
		MaxPoolSize: cfg.MongoDB.MaxPoolSize,
		MinPoolSize: cfg.MongoDB.MinPoolSize,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		mongodb.Close(ctx)
	}()
	health.AddCheck("mongodb", mongodb.Ping)

	logger.Info().Str("database", cfg.MongoDB.Database).Msg("Connected to MongoDB")

	// Ranked set cache
	var cache ranking.Store = ranking.NewMemoryStore()
	if cfg.SharedCache() {
		redisClient, err := db.NewRedis(context.Background(), db.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		cache = ranking.NewRedisStore(redisClient)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis ranking cache")
	}

	runStore := store.NewRunStore(mongodb.Runs())
	playerStore := store.NewPlayerStore(mongodb.Players())
	snapshotStore := store.NewSnapshotStore(mongodb.DailyLeaderboards())
	auditLog := audit.NewLogger(mongodb.AuditLog(), logger)

	// Broadcast sinks: local sockets first, then cross-instance relays
	hub := handlers.NewHub(metrics, logger)
	go hub.Run()
	defer hub.Stop()

	sinks := []broadcast.Sink{hub}
	if cfg.EventBus.Enabled {
		bus := eventbus.New(mongodb.WSEvents(), hub.DeliverLocal, logger)
		bus.Start()
		defer bus.Stop()
		sinks = append(sinks, bus)
		logger.Info().Str("machineId", bus.MachineID()).Msg("Cross-instance event bus started")
	}
	if cfg.NATS.URL != "" {
		nc, err := broadcast.ConnectNATS(cfg.NATS.URL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
		defer nc.Drain()
		health.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
		sinks = append(sinks, broadcast.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
	}
	publisher := broadcast.NewFanout(logger, metrics, sinks...)

	// Services
	leaderboard := services.NewLeaderboardService(runStore, cache, publisher, cfg.Leaderboard.TopN, logger, metrics, observability.Tracer())
	leaderboard.SetAuditor(auditLog)
	playerService := services.NewPlayerService(playerStore, leaderboard, auditLog)

	if cfg.Rotation.Enabled {
		// Instances sharing a cache elect one rotator per boundary
		var locker services.Locker
		if cfg.SharedCache() {
			locker = store.NewLockStore(mongodb.CleanupLocks())
		}
		scheduler := services.NewSnapshotScheduler(leaderboard, snapshotStore, locker, cfg.Rotation.LockTTL.Std(), auditLog, logger, metrics)
		scheduler.Start()
		defer scheduler.Stop()
	}

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}, metrics)
	defer rateLimiter.Stop()
	limited := rateLimiter.IPRateLimitMiddleware()

	// Create handlers
	wsHandler := handlers.NewWebSocketHandler(hub, leaderboard, logger)
	leaderboardHandler := handlers.NewLeaderboardHandler(leaderboard, snapshotStore, cfg.Leaderboard.DefaultLimit)
	runHandler := handlers.NewRunHandler(leaderboard, playerService)
	playerHandler := handlers.NewPlayerHandler(playerService, cfg.Leaderboard.DefaultLimit)

	// Set up router
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(logger, metrics))

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Welcome to the Leaderboard System API"))
	}).Methods("GET")

	// WebSocket route
	router.Handle("/ws/leaderboard", limited(http.HandlerFunc(wsHandler.HandleWebSocket)))

	// API routes
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/players", playerHandler.CreatePlayer).Methods("POST")
	api.HandleFunc("/players/bulk", playerHandler.CreatePlayersBulk).Methods("POST")
	api.HandleFunc("/players", playerHandler.ListPlayers).Methods("GET")
	api.HandleFunc("/players/{id}", playerHandler.UpdatePlayer).Methods("PUT")
	api.HandleFunc("/players/{id}", playerHandler.DeletePlayer).Methods("DELETE")

	runApi := api.PathPrefix("/runs").Subrouter()
	runApi.Use(limited)
	runApi.HandleFunc("", runHandler.SubmitRun).Methods("POST")
	runApi.HandleFunc("/bulk", runHandler.SubmitBulk).Methods("POST")
	runApi.HandleFunc("/{id}", runHandler.UpdateRun).Methods("PUT")
	runApi.HandleFunc("/{id}", runHandler.DeleteRun).Methods("DELETE")

	api.HandleFunc("/leaderboard", leaderboardHandler.GetLeaderboard).Methods("GET")
	api.HandleFunc("/daily-leaderboard", leaderboardHandler.GetDailyLeaderboard).Methods("GET")

	// Health and metrics
	router.HandleFunc("/health", health.LivenessHandler).Methods("GET")
	router.HandleFunc("/healthz", health.LivenessHandler).Methods("GET")
	router.HandleFunc("/readyz", health.ReadinessHandler).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.Frontend.URL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	})

	// Create server
	addr := cfg.Addr()
	server := &http.Server{
		Addr:         addr,
		Handler:      middleware.SecurityHeaders(corsHandler.Handler(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", addr).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server error")
		}
	}()
	health.SetReady(true)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	health.SetReady(false)

	// Graceful shutdown; deferred stops then run in reverse start order
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
		return
	}

	logger.Info().Msg("Server stopped")
}
