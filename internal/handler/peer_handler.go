// Package handler はサンドボックスピアのHTTPハンドラを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"payment-session-client/internal/domain"
	"payment-session-client/internal/middleware"
	"payment-session-client/internal/transport"
	"payment-session-client/internal/usecase"
	"payment-session-client/pkg/httputil"
)

const maxBodySize = 64 << 10

// PeerHandler は鍵交換と取引受付のHTTPハンドラを提供する。
type PeerHandler struct {
	service *usecase.PeerService
}

// NewPeerHandler は新しいPeerHandlerを生成する。
func NewPeerHandler(service *usecase.PeerService) *PeerHandler {
	return &PeerHandler{service: service}
}

// RequestExchange は鍵交換リクエストを処理する。
func (h *PeerHandler) RequestExchange(w http.ResponseWriter, r *http.Request) {
	var envelope domain.ExchangeEnvelope
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&envelope); err != nil {
		middleware.WriteAuditLog(r.Context(), "KEY_EXCHANGE", 0, "FAILED")
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "request body must be an exchange envelope")
		return
	}

	resp, err := h.service.Exchange(r.Context(), &envelope)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "KEY_EXCHANGE", 0, "FAILED")
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "KEY_EXCHANGE", 0, "SUCCESS")
	httputil.JSON(w, http.StatusOK, resp)
}

// SubmitTransaction は署名済み取引を受け付ける。
func (h *PeerHandler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "SUBMIT_TRANSACTION", 0, "FAILED")
		httputil.Error(w, http.StatusBadRequest, "INVALID_BODY", "request body too large or unreadable")
		return
	}

	signature := r.Header.Get(transport.HeaderSignature)
	timestamp := r.Header.Get(transport.HeaderTimestamp)
	if signature == "" || timestamp == "" {
		middleware.WriteAuditLog(r.Context(), "SUBMIT_TRANSACTION", 0, "FAILED")
		httputil.Error(w, http.StatusBadRequest, "MISSING_SIGNATURE", "X-Signature and X-Timestamp headers are required")
		return
	}

	receipt, err := h.service.AcceptTransaction(r.Context(), body, signature, timestamp)
	if err != nil {
		middleware.WriteAuditLog(r.Context(), "SUBMIT_TRANSACTION", 0, "FAILED")
		writeError(w, r, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "SUBMIT_TRANSACTION", receipt.MerchantID, "SUCCESS")
	httputil.JSON(w, http.StatusCreated, receipt)
}

// Health はヘルスチェックに応答する。
func (h *PeerHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError はドメインエラーをHTTPステータスに変換する。
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		httputil.Error(w, http.StatusBadRequest, "INVALID_INPUT", verr.Error())
	case errors.Is(err, domain.ErrReplay):
		httputil.Error(w, http.StatusConflict, "REPLAYED_NONCE", "nonce has already been used")
	case errors.Is(err, domain.ErrStaleTimestamp):
		httputil.Error(w, http.StatusUnauthorized, "STALE_TIMESTAMP", "timestamp outside allowed window")
	case errors.Is(err, domain.ErrNoSession), errors.Is(err, domain.ErrSessionMismatch):
		httputil.Error(w, http.StatusUnauthorized, "NO_SESSION", "no session keys for merchant")
	case errors.Is(err, domain.ErrDecryption), errors.Is(err, domain.ErrAuthentication):
		httputil.Error(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "message could not be authenticated")
	case errors.Is(err, domain.ErrProtocol), errors.Is(err, domain.ErrKeyFormat):
		httputil.Error(w, http.StatusBadRequest, "MALFORMED_MESSAGE", "message is structurally invalid")
	default:
		httputil.ErrorContext(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", err)
	}
}
