package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"trio-stream/internal/auth"
	"trio-stream/internal/config"
	"trio-stream/internal/db"
	"trio-stream/internal/domain"
	"trio-stream/internal/history"
	apihttp "trio-stream/internal/http"
	"trio-stream/internal/metrics"
	"trio-stream/internal/ratelimit"
	"trio-stream/internal/session"
	"trio-stream/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
			redisClient.Close()
			redisClient = nil
		}
		cancel()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	jwtSvc := auth.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	// Cada request reenvia el token del usuario; el usuario de servicio solo
	// cubre lo que llega sin token.
	var serviceCreds auth.Credentials
	if cfg.ServiceUserID != "" {
		serviceCreds = auth.JWTIssuer{Service: jwtSvc, User: domain.User{ID: cfg.ServiceUserID}}
	}
	client := transport.NewClient(cfg.BackendBaseURL, serviceCreds, nil, logger).
		WithConnectTimeout(cfg.StreamConnectTimeout)

	var provider history.Provider = history.NewHTTPProvider(client)
	if cfg.UsesPostgresHistory() {
		var pool *pgxpool.Pool
		pool, err = db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.Ping(ctx, pool); err != nil {
			logger.Fatal("db ping", zap.Error(err))
		}
		provider = history.NewPgProvider(pool)
	}
	provider = history.NewRedisCache(redisClient, provider, cfg.HistoryCacheTTL, logger)

	m := metrics.New()
	manager := session.NewManager(provider, session.TransportOpener(client), logger, session.WithManagerRecorder(m))
	defer manager.Close()
	limiter := ratelimit.NewRedisLimiter(redisClient, cfg.SendRateWindow, cfg.SendRateMax, logger)
	chatHandler := apihttp.NewChatHandler(logger, manager, limiter)
	router := apihttp.NewRouter(logger, jwtSvc, chatHandler, m)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		manager.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting bridge",
		zap.String("port", cfg.HTTPPort),
		zap.String("backend", cfg.BackendBaseURL),
		zap.Bool("postgres_history", cfg.UsesPostgresHistory()),
		zap.Bool("redis", redisClient != nil),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
