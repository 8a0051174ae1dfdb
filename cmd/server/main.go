package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Baaaki/heartscan/internal/broker"
	"github.com/Baaaki/heartscan/internal/config"
	"github.com/Baaaki/heartscan/internal/database"
	"github.com/Baaaki/heartscan/internal/handler"
	"github.com/Baaaki/heartscan/internal/inference"
	"github.com/Baaaki/heartscan/internal/middleware"
	"github.com/Baaaki/heartscan/internal/repository"
	"github.com/Baaaki/heartscan/internal/server"
	"github.com/Baaaki/heartscan/internal/service"
	"github.com/Baaaki/heartscan/internal/storage"
	"github.com/Baaaki/heartscan/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := logger.Init(!cfg.IsProduction()); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Log.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// The classifier is loaded once and shared by every request.
	classifier, err := inference.LoadModel(cfg.ModelPath)
	if err != nil {
		logger.Log.Fatal("Failed to load classifier",
			zap.String("path", cfg.ModelPath),
			zap.Error(err),
		)
	}
	logger.Log.Info("Classifier loaded",
		zap.String("version", classifier.Version()),
		zap.Strings("labels", classifier.Labels()),
	)

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Log.Fatal("Failed to open image storage",
			zap.String("backend", cfg.StorageBackend),
			zap.Error(err),
		)
	}

	// Redis is optional: without it there is no rate limiting and the
	// prediction feed stays silent.
	var (
		events        broker.EventBroker = broker.NopBroker{}
		authLimiter   *middleware.RateLimiter
		uploadLimiter *middleware.RateLimiter
	)
	if cfg.RedisURL != "" {
		redisClient, err := broker.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		events = broker.NewRedisEventBroker(redisClient)
		defer events.Close()

		authLimiter, uploadLimiter = newLimiters(redisClient, cfg)
		logger.Log.Info("Redis connected, rate limiting and prediction events enabled")
	} else {
		logger.Log.Warn("REDIS_URL not set, rate limiting and prediction events disabled")
	}

	userRepo := repository.NewUserRepository(db)
	modelRepo := repository.NewMLModelRepository(db)
	predictionRepo := repository.NewPredictionRepository(db)

	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiry)
	userService := service.NewUserService(userRepo)
	modelService := service.NewMLModelService(modelRepo)
	predictionService := service.NewPredictionService(
		predictionRepo,
		userRepo,
		store,
		classifier,
		events,
		service.UploadLimits{
			MaxBytes:     cfg.MaxUploadBytes(),
			MaxDimension: cfg.MaxImageDimension,
		},
	)

	feed := handler.NewWebSocketHandler(events, cfg.CORSOrigins)
	if err := feed.Start(ctx); err != nil {
		logger.Log.Fatal("Failed to start prediction feed", zap.Error(err))
	}

	router := server.NewRouter(server.Deps{
		Config:            cfg,
		AuthService:       authService,
		UserService:       userService,
		MLModelService:    modelService,
		PredictionService: predictionService,
		Feed:              feed,
		AuthLimiter:       authLimiter,
		UploadLimiter:     uploadLimiter,
	})

	srv := &http.Server{
		Addr:              cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Info("Server starting",
			zap.String("addr", cfg.ServerPort),
			zap.String("environment", cfg.Environment),
			zap.String("storage", cfg.StorageBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Log.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Log.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (storage.ImageStore, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return storage.NewLocalStore(cfg.UploadDir)
	}
}

// newLimiters returns separate budgets for the auth endpoints and uploads.
func newLimiters(client *redis.Client, cfg *config.Config) (*middleware.RateLimiter, *middleware.RateLimiter) {
	limiterCfg := middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitMaxRequests,
		Window:      cfg.RateLimitWindow,
		BlockTime:   cfg.RateLimitBlockTime,
	}
	return middleware.NewRateLimiter(client, limiterCfg, "auth"),
		middleware.NewRateLimiter(client, limiterCfg, "upload")
}
