// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// WriteAuditLog は監査ログを出力する。merchantID が0の場合は出力しない。
func WriteAuditLog(ctx context.Context, operation string, merchantID int64, result string) {
	attrs := []any{
		"operation", operation,
		"result", result,
		"timestamp", time.Now().UTC().Format(time.RFC3339),
	}
	if merchantID > 0 {
		attrs = append(attrs, "merchant_id", merchantID)
	}
	slog.InfoContext(ctx, "peer operation completed", attrs...)
}

// RequestLogger はリクエストごとにステータスと所要時間を構造化ログに出力する。
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		slog.InfoContext(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
