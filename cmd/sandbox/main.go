// Package main は開発用サンドボックスピアのエントリポイント。
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payment-session-client/config"
	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/handler"
	"payment-session-client/internal/infra"
	"payment-session-client/internal/middleware"
	"payment-session-client/internal/repository"
	"payment-session-client/internal/usecase"
)

const version = "1.0.0"

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	cfg := config.Load()

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg, "sandbox", version)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	infra.SetupLogger(cfg, os.Stdout)

	keys, err := loadPeerKeys(ctx, cfg)
	if err != nil {
		slog.Error("failed to load peer keys", "error", err)
		os.Exit(1)
	}

	// nonceストア: REDIS_ADDRがあればRedis、なければメモリ
	var nonces usecase.NonceStore
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		nonces = repository.NewRedisNonceStore(rdb, cfg.NonceTTL)
		slog.Info("using redis nonce store", "addr", cfg.RedisAddr)
	} else {
		nonces = repository.NewMemoryNonceStore(cfg.NonceTTL)
	}

	// DI
	service := usecase.NewPeerService(keys, repository.NewMerchantKeyStore(), nonces, cfg.MaxClockSkew)
	h := handler.NewPeerHandler(service)

	var opts []handler.RouterOption
	if cfg.MaxFailures > 0 {
		opts = append(opts, handler.WithAttemptLimiter(middleware.NewAttemptLimiter(cfg.MaxFailures, cfg.FailureBlock)))
	}
	if cfg.RateLimitRPS > 0 {
		opts = append(opts, handler.WithExchangeRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Minute))
	}
	if cfg.MetricsEnabled {
		opts = append(opts, handler.WithMetrics(middleware.NewMetrics()))
	}
	router := otelhttp.NewHandler(handler.NewRouter(h, opts...), "sandbox")

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting sandbox peer", "port", cfg.Port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// loadPeerKeys はサーバー秘密鍵とクライアント公開鍵を読み込む。
func loadPeerKeys(ctx context.Context, cfg *config.Config) (*usecase.PeerKeys, error) {
	client := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	privPEM, err := infra.NewPEMSource(cfg.ServerPrivateKey, client).Load(ctx)
	if err != nil {
		return nil, err
	}
	defer clear(privPEM)
	serverPrivate, err := asymmetric.LoadPrivateKey(string(privPEM))
	if err != nil {
		return nil, err
	}

	pubPEM, err := infra.NewPEMSource(cfg.ClientPublicKey, client).Load(ctx)
	if err != nil {
		return nil, err
	}
	clientPublic, err := asymmetric.LoadPublicKey(string(pubPEM))
	if err != nil {
		return nil, err
	}

	return &usecase.PeerKeys{ServerPrivate: serverPrivate, ClientPublic: clientPublic}, nil
}
