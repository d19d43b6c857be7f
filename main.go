package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/faceswap-gateway/internal/config"
	"github.com/example/faceswap-gateway/internal/gemini"
	"github.com/example/faceswap-gateway/internal/handlers"
	"github.com/example/faceswap-gateway/internal/logging"
	"github.com/example/faceswap-gateway/internal/repository"
	"github.com/example/faceswap-gateway/internal/usecase"
)

const cacheKeyPrefix = "faceswap:"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var repo usecase.GenerationRepository
	if cfg.DatabaseDSN != "" {
		db := initDatabase(ctx, cfg.DatabaseDSN, logger)
		generationRepo := repository.NewGenerationRepository(db, logger)
		if err := generationRepo.AutoMigrate(ctx); err != nil {
			logger.Fatal("auto migrate failed", zap.Error(err))
		}
		repo = generationRepo
	}

	var cache usecase.Cache
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		cache = initRedis(redisCtx, cfg, logger)
		redisCancel()
	}

	client, err := gemini.NewClient(gemini.Config{
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Timeout: cfg.GeminiTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build gemini client", zap.Error(err))
	}

	uc := usecase.NewGenerationUseCase(cfg, client, repo, cache, logger)
	if !uc.Configured() {
		logger.Warn("GEMINI_API_KEY is not set; generation endpoints will return 500")
	}

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           newRouter(cfg, uc, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("faceswap gateway listening",
		zap.String("addr", cfg.Addr()),
		zap.String("model", cfg.GeminiModel),
		zap.Bool("summaries_in_db", repo != nil),
		zap.Bool("summaries_in_cache", cache != nil))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	uc.Wait()
}

func newRouter(cfg *config.Config, uc *usecase.GenerationUseCase, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = handlers.MaxFormMemory
	r.Use(handlers.RequestLogger(logger), handlers.Recovery(logger))

	handlers.RegisterRoutes(r, uc, handlers.Options{
		MaxFileBytes: cfg.MaxUploadBytes,
		MaxBatchSize: cfg.MaxBatchSize,
		StaticDir:    cfg.StaticDir,
	})
	return r
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *usecase.RedisCache {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	cache := usecase.NewRedisCache(client, cacheKeyPrefix)
	if err := cache.Ping(ctx); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return cache
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
