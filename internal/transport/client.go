// Package transport はピアとのHTTP通信を提供する。
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payment-session-client/internal/domain"
)

const (
	// ExchangePath は鍵交換エンドポイント。
	ExchangePath = "/keys/exchange/request"
	// TransactionsPath は取引送信エンドポイント。
	TransactionsPath = "/transactions"

	// HeaderSignature はHMAC署名のヘッダー名。
	HeaderSignature = "X-Signature"
	// HeaderTimestamp はミリ秒タイムスタンプのヘッダー名。
	HeaderTimestamp = "X-Timestamp"

	maxResponseSize = 1 << 20
)

// StatusError はピアが2xx以外を返した場合のエラー。
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("peer returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("peer returned status %d", e.StatusCode)
}

// Is は errors.Is(err, domain.ErrTransport) を満たす。
func (e *StatusError) Is(target error) bool {
	return target == domain.ErrTransport
}

// PeerClient はピアのHTTP APIクライアント。再送は行わない。
type PeerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewPeerClient は新しいPeerClientを生成する。
func NewPeerClient(baseURL string, timeout time.Duration) *PeerClient {
	return &PeerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewPeerClientWithHTTP は任意のhttp.ClientでPeerClientを生成する。
func NewPeerClientWithHTTP(baseURL string, client *http.Client) *PeerClient {
	return &PeerClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

// RequestExchange は鍵交換封筒を送信し、応答封筒を返す。
func (c *PeerClient) RequestExchange(ctx context.Context, envelope *domain.ExchangeEnvelope) (*domain.ExchangeEnvelope, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	respBody, err := c.post(ctx, ExchangePath, body, nil)
	if err != nil {
		return nil, err
	}

	var out domain.ExchangeEnvelope
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("%w: exchange response: %v", domain.ErrProtocol, err)
	}
	if out.Ciphertext == "" || out.Signature == "" {
		return nil, fmt.Errorf("%w: exchange response missing ciphertext or signature", domain.ErrProtocol)
	}
	return &out, nil
}

// SubmitTransaction は署名済み取引を送信する。ボディは署名済みのバイト列をそのまま使う。
func (c *PeerClient) SubmitTransaction(ctx context.Context, signed *domain.SignedTransaction) (*domain.TransactionReceipt, error) {
	headers := map[string]string{
		HeaderSignature: signed.Signature,
		HeaderTimestamp: strconv.FormatInt(signed.Timestamp, 10),
	}
	respBody, err := c.post(ctx, TransactionsPath, signed.Body, headers)
	if err != nil {
		return nil, err
	}

	var receipt domain.TransactionReceipt
	if err := json.Unmarshal(respBody, &receipt); err != nil {
		return nil, fmt.Errorf("%w: transaction response: %v", domain.ErrProtocol, err)
	}
	return &receipt, nil
}

func (c *PeerClient) post(ctx context.Context, path string, body []byte, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, classify(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseStatusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// classify はキャンセル・タイムアウトを通信失敗と区別する。
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrCanceled, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransport, err)
}

func parseStatusError(status int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		return &StatusError{StatusCode: status, Code: errResp.Code, Message: errResp.Message}
	}
	return &StatusError{StatusCode: status}
}
