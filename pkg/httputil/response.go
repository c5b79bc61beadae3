// Package httputil はHTTPレスポンス生成のユーティリティを提供する。
package httputil

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse はエラーレスポンスの形式。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JSON はJSONレスポンスを返す。
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// ヘッダーは送信済みのためログのみ
			slog.Error("failed to encode response",
				"status", status,
				"error", err,
			)
		}
	}
}

// Error はエラーレスポンスを返す。
func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// ErrorContext は原因をログに残してからエラーレスポンスを返す。
func ErrorContext(ctx context.Context, w http.ResponseWriter, status int, code, message string, cause error) {
	slog.ErrorContext(ctx, "request failed",
		"status", status,
		"code", code,
		"error", cause,
	)
	Error(w, status, code, message)
}
