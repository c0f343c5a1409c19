package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clipzy/clipzy-server/internal/config"
	"github.com/clipzy/clipzy-server/internal/database"
	"github.com/clipzy/clipzy-server/internal/handler"
	"github.com/clipzy/clipzy-server/internal/jobs"
	"github.com/clipzy/clipzy-server/internal/kv"
	"github.com/clipzy/clipzy-server/internal/middleware"
	"github.com/clipzy/clipzy-server/internal/redis"
	"github.com/clipzy/clipzy-server/internal/repository"
	"github.com/clipzy/clipzy-server/internal/service"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.BackendPingTimeout)
		redisClient, err = redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	var db *database.DB
	if cfg.KVBackend == config.BackendPostgres {
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.BackendPingTimeout)
		err = db.Migrate(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("database connected")
	}

	store, err := kv.Open(kv.Options{
		Backend:      cfg.KVBackend,
		Timeout:      cfg.KVTimeout,
		UpstashURL:   cfg.UpstashURL,
		UpstashToken: cfg.UpstashToken,
		Redis:        redisClient,
		DB:           db,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open kv store")
	}
	defer store.Close()
	log.Info().Str("backend", cfg.KVBackend).Msg("kv store ready")

	pasteRepo := repository.NewPasteRepository(store)
	roomRepo := repository.NewRoomRepository(store)
	mailboxRepo := repository.NewMailboxRepository(store, nil)

	pasteService := service.NewPasteService(pasteRepo)
	relayService := service.NewRelayService(roomRepo, mailboxRepo)

	var limiter service.Limiter
	if redisClient != nil {
		limiter = service.NewRateLimiter(redisClient.Client)
	} else {
		limiter = service.NewMemoryRateLimiter()
	}
	storeLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.StoreRateLimitPerMin, time.Minute, "store")
	signalLimit := middleware.NewIPRateLimitMiddleware(limiter, cfg.SignalRateLimitPerMin, time.Minute, "signal")

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(config.MaxRequestBodyBytes)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())

	pasteHandler := handler.NewPasteHandler(pasteService, storeLimit.Handler)
	signalHandler := handler.NewSignalHandler(relayService, signalLimit.Handler)

	api := chi.NewRouter()
	api.Mount("/lan/signal", signalHandler.Routes())
	api.Mount("/", pasteHandler.Routes())

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"backend":   cfg.KVBackend,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	// Deployments differ on whether the /api prefix is stripped upstream.
	r.Mount("/api", api)
	r.Mount("/", api)

	if expirer, ok := kv.AsExpirer(store); ok {
		purgeJob := jobs.NewCleanupJob(config.CleanupJobInterval).
			Add("expired kv entries", expirer.DeleteExpired)
		purgeJob.Start()
		defer purgeJob.Stop()
	}

	if cfg.DeviceStaleAfter > 0 {
		staleAfter := cfg.DeviceStaleAfter
		sweepJob := jobs.NewCleanupJob(config.StaleSweepJobInterval).
			Add("stale devices", func(ctx context.Context) (int64, error) {
				return relayService.EvictStaleDevices(ctx, staleAfter)
			})
		sweepJob.Start()
		defer sweepJob.Stop()
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
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
