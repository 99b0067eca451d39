package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estatechat/internal/api"
	"estatechat/internal/auth"
	"estatechat/internal/config"
	"estatechat/internal/logger"
	"estatechat/internal/redis"
	"estatechat/internal/service/ai"
	"estatechat/internal/service/assistant"
	"estatechat/internal/service/ingest"
	"estatechat/internal/storage"
	"estatechat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("ESTATECHAT_CONFIG"))
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiKey, err := cfg.ResolveAPIKey()
	if err != nil {
		log.Fatal("resolve api key", zap.String("env", cfg.Assistant.APIKeyEnv), zap.Error(err))
	}
	generator, err := ai.NewService(ctx, cfg, apiKey, log.Named("ai"))
	if err != nil {
		log.Fatal("init generator", zap.String("provider", cfg.Assistant.Provider), zap.Error(err))
	}

	dbType := cfg.BasicConfig.Database
	log.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatal("migrate database", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("connect redis", zap.Error(err))
		}
		defer cache.Close()
	}

	extractor, err := ingest.New(ctx)
	if err != nil {
		log.Fatal("init ingestion", zap.Error(err))
	}

	assistantService := assistant.NewService(db, extractor, log.Named("assistant")).
		WithUploadTTL(time.Duration(cfg.BasicConfig.UploadTTLMinutes) * time.Minute)
	assistantService.StartUploadCleaner(ctx, time.Duration(cfg.BasicConfig.CleanIntervalMinutes)*time.Minute)

	authService := auth.NewService(db, cache, time.Duration(cfg.BasicConfig.SessionTTLHours)*time.Hour).
		WithLogger(log.Named("auth")).
		WithSecureCookies(cfg.BasicConfig.SecureCookies)

	workers := worker.NewManager(assistantService, generator, worker.Config{
		QueueSize:     cfg.Assistant.QueueSize,
		Timeout:       cfg.GenerationTimeout(),
		MaxConcurrent: int64(cfg.Assistant.MaxConcurrent),
		IdleTimeout:   time.Duration(cfg.Assistant.WorkerIdleMinutes) * time.Minute,
	}, log.Named("worker"))
	defer workers.Stop()

	handlers, err := api.NewHandler(assistantService, authService, workers, generator, api.Options{
		FileBaseDir:    cfg.BasicConfig.FileBaseDir,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Logger:         log.Named("api"),
	})
	if err != nil {
		log.Fatal("init handlers", zap.Error(err))
	}

	if cfg.Log.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(logger.GinMiddleware(log.Named("http")), gin.Recovery())
	handlers.RegisterRoutes(router)

	var handler http.Handler = router
	if len(cfg.BasicConfig.CORSAllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins:   cfg.BasicConfig.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", authService.CSRFHeaderName()},
			AllowCredentials: true,
		}).Handler(router)
	}

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", srv.Addr), zap.String("model", cfg.Model()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown", zap.Error(err))
	}
}
