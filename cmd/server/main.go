package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/playground/internal/auth"
	"github.com/makeasinger/playground/internal/client"
	"github.com/makeasinger/playground/internal/config"
	"github.com/makeasinger/playground/internal/handler"
	"github.com/makeasinger/playground/internal/logger"
	"github.com/makeasinger/playground/internal/middleware"
	"github.com/makeasinger/playground/internal/model"
	"github.com/makeasinger/playground/internal/repository"
	"github.com/makeasinger/playground/internal/server"
	"github.com/makeasinger/playground/internal/service"
	"github.com/makeasinger/playground/internal/tracker"
	ws "github.com/makeasinger/playground/internal/websocket"
	"github.com/makeasinger/playground/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := repository.Open(&cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", "driver", cfg.Database.Driver, "error", err)
	}
	registry := repository.NewRegistry(db)

	// Redis is optional: without it there is no rate limiting, job index,
	// lyrics hot cache or mirroring.
	var redisClient *redis.Client
	if !cfg.Redis.Disabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis not available, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			redisClient.Close()
			redisClient = nil
		}
	}

	// External clients
	provider := client.NewProviderClient(&cfg.Provider, log)
	if !provider.IsConfigured() {
		log.Warn("provider api key not set, job submission will fail")
	}

	// R2 storage (optional)
	var store client.ObjectStore
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("R2 client not initialized", "error", err)
		} else {
			store = r2Client
		}
	} else {
		log.Info("R2 storage not configured, files stay on provider URLs")
	}

	// Auth: session tokens, plus an OIDC issuer when configured
	tokens := auth.NewSessionTokens(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour)
	verifiers := auth.Chain{tokens}
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			log.Warn("JWKS verifier not initialized", "issuer", cfg.Zitadel.Issuer, "error", err)
		} else {
			verifiers = append(verifiers, jwksVerifier)
		}
	}
	passwords := auth.NewPasswordBook(cfg.Auth.Password, cfg.Auth.Users)
	if !passwords.Enabled() {
		log.Warn("no login password configured, /api/login is disabled")
	}

	// Background mirroring
	var asynqClient *asynq.Client
	mirrorEnabled := redisClient != nil && store != nil && cfg.Worker.Mirror
	if mirrorEnabled {
		asynqClient = asynq.NewClient(redisOpt(cfg))
		defer asynqClient.Close()
	}
	mirrorService := service.NewMirrorService(asynqClient, log)

	// Job ownership lives in the jobs table, cached in Redis when available
	jobIndex := service.NewJobIndex(registry, redisClient, 24*time.Hour, log)
	hubOpts := []ws.Option{ws.WithJobLookup(jobIndex)}

	// Tracker and realtime hub
	trackerOpts := tracker.Options{
		PollInterval: cfg.Tracker.PollInterval,
		MaxDuration:  cfg.Tracker.MaxDuration,
	}
	if mirrorEnabled {
		trackerOpts.OnCommitted = func(ctx context.Context, artifacts []model.Artifact) {
			mirrorService.EnqueueArtifacts(ctx, artifacts)
		}
	}
	taskTracker := tracker.New(provider, tracker.NewStoreCommitter(registry), trackerOpts, log)
	hub := ws.NewHub(taskTracker, log, hubOpts...)
	go hub.Run(ctx)

	// Services
	validate := validator.New()
	jobService := service.NewJobService(provider, jobIndex, log)
	libraryService := service.NewLibraryService(registry, store, log)
	lyricsService := service.NewLyricsService(registry, provider, redisClient, log)
	accountService := service.NewAccountService(provider)

	app := server.NewRouter(server.RouterConfig{
		Config: cfg,
		HealthHandler: handler.NewHealthHandler(map[string]bool{
			"provider": provider.IsConfigured(),
			"redis":    redisClient != nil,
			"r2":       store != nil,
			"mirror":   mirrorEnabled,
			"login":    passwords.Enabled(),
		}, hub.ActiveSessions),
		AuthHandler:     handler.NewAuthHandler(passwords, tokens, validate),
		JobHandler:      handler.NewJobHandler(jobService, validate),
		LibraryHandler:  handler.NewLibraryHandler(libraryService, validate),
		LyricsHandler:   handler.NewLyricsHandler(lyricsService, validate),
		AccountHandler:  handler.NewAccountHandler(accountService, validate),
		RealtimeHandler: handler.NewRealtimeHandler(hub),
		AuthMiddleware:  middleware.NewAuthMiddleware(verifiers),
		RateLimiter:     middleware.NewRateLimiter(redisClient, log),
		RequestLog:      true,
	})

	// Start Asynq worker server
	var workerServer *asynq.Server
	if mirrorEnabled {
		workerServer = startWorkerServer(cfg, registry, store, log)
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
		if workerServer != nil {
			workerServer.Shutdown()
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", "error", err)
	}
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func startWorkerServer(cfg *config.Config, registry *repository.Registry, store client.ObjectStore, log *logger.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			"mirror": 1,
		},
		LogLevel: asynqLogLevel,
	})

	mirrorWorker := worker.NewMirrorWorker(registry, store, log)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeMirror, mirrorWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Error("asynq worker failed to start", "error", err)
		return nil
	}
	return srv
}
