package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"payment-session-client/internal/middleware"
	"payment-session-client/internal/transport"
)

type routerOptions struct {
	metrics        *middleware.Metrics
	exchangeLimit  func(http.Handler) http.Handler
	attemptLimiter *middleware.AttemptLimiter
}

// RouterOption はルーターの構成を変更する。
type RouterOption func(*routerOptions)

// WithMetrics はリクエストを計測し/metricsを公開する。
func WithMetrics(m *middleware.Metrics) RouterOption {
	return func(o *routerOptions) { o.metrics = m }
}

// WithExchangeRateLimit は鍵交換エンドポイントにIP単位のレート制限をかける。
func WithExchangeRateLimit(rps float64, burst int, ttl time.Duration) RouterOption {
	return func(o *routerOptions) { o.exchangeLimit = middleware.RateLimit(rps, burst, ttl) }
}

// WithAttemptLimiter は認証失敗を繰り返すIPを遮断する。
func WithAttemptLimiter(l *middleware.AttemptLimiter) RouterOption {
	return func(o *routerOptions) { o.attemptLimiter = l }
}

// NewRouter はサンドボックスピアのルーターを生成する。
func NewRouter(h *PeerHandler, opts ...RouterOption) http.Handler {
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	if o.metrics != nil {
		r.Use(o.metrics.Middleware)
	}

	// ルート定義
	r.Get("/healthz", h.Health)
	if o.metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if o.attemptLimiter != nil {
			r.Use(o.attemptLimiter.Middleware)
		}

		r.With(optional(o.exchangeLimit)...).Post(transport.ExchangePath, h.RequestExchange)
		r.Post(transport.TransactionsPath, h.SubmitTransaction)
	})

	return r
}

func optional(mw func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	if mw == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{mw}
}
