package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plantlink/garden-relay-go/internal/broadcast"
	"github.com/plantlink/garden-relay-go/internal/config"
	"github.com/plantlink/garden-relay-go/internal/database"
	"github.com/plantlink/garden-relay-go/internal/handler"
	"github.com/plantlink/garden-relay-go/internal/hardware"
	"github.com/plantlink/garden-relay-go/internal/jobs"
	"github.com/plantlink/garden-relay-go/internal/middleware"
	"github.com/plantlink/garden-relay-go/internal/redis"
	"github.com/plantlink/garden-relay-go/internal/repository"
	"github.com/plantlink/garden-relay-go/internal/router"
	"github.com/plantlink/garden-relay-go/internal/service"
	"github.com/plantlink/garden-relay-go/internal/session"
	"github.com/plantlink/garden-relay-go/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		cancel()
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	gardenRepo := repository.NewGardenRepository(db.DB)
	plantRepo := repository.NewPlantRepository(db.DB)
	moistureRepo := repository.NewMoistureRepository(db.DB)

	// Redis outages should not lock users out of their gardens.
	rateLimiter := service.NewRateLimiter(redisClient.Client, true)
	authService := service.NewAuthService(
		userRepo, service.NewRedisRevocationStore(redisClient.Client), cfg.JWTSecret, cfg.TokenTTL(),
	)
	gardenService := service.NewGardenService(db, gardenRepo, userRepo, plantRepo)
	plantService := service.NewPlantService(plantRepo, moistureRepo, gardenService)

	registry := session.NewRegistry()
	link := hardware.NewLink()
	broadcaster := broadcast.NewBroadcaster(gardenService, registry)

	msgRouter := router.New(registry, link,
		router.WithRateLimit(rateLimiter, cfg.MessageRateLimitPerMin, config.RateLimitWindow),
		router.WithHandlerTimeout(config.MessageHandlerTimeout),
	)
	plantHandler := handler.NewPlantHandler(plantService, gardenService, link, broadcaster, cfg.DeviceReplyTimeout())
	handler.NewAuthHandler(authService, registry, link).Register(msgRouter)
	handler.NewDeviceHandler(link, registry, cfg.DeviceToken).Register(msgRouter)
	handler.NewGardenHandler(gardenService, broadcaster, plantHandler).Register(msgRouter)
	plantHandler.Register(msgRouter)

	wsServer := ws.NewServer(msgRouter, cfg.WSMaxMessageBytes)
	healthHandler := handler.NewHealthHandler(db, link, registry)

	wsLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.WSConnectLimitPerMin, config.RateLimitWindow, "ws",
	)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Method(http.MethodGet, "/health", healthHandler)

	r.With(wsLimitMiddleware.Handler).Method(http.MethodGet, "/ws", wsServer)

	expiryJob := jobs.NewExpiryJob(msgRouter, config.PendingSweepInterval)
	expiryJob.Start()

	server := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     r,
		ReadTimeout: config.ServerReadTimeout,
		// Hijacked websocket connections manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	expiryJob.Stop()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("websocket connections did not close in time")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
