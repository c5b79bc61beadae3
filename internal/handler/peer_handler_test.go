package handler

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/codec"
	"payment-session-client/internal/domain"
	"payment-session-client/internal/middleware"
	"payment-session-client/internal/repository"
	"payment-session-client/internal/symmetric"
	"payment-session-client/internal/transport"
	"payment-session-client/internal/usecase"
	"payment-session-client/pkg/httputil"
)

var (
	keysOnce  sync.Once
	serverKey *rsa.PrivateKey
	clientKey *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keysOnce.Do(func() {
		var err error
		if serverKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if clientKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return serverKey, clientKey
}

func setupRouter(t *testing.T, opts ...RouterOption) http.Handler {
	t.Helper()
	server, client := testKeys(t)
	service := usecase.NewPeerService(
		&usecase.PeerKeys{ServerPrivate: server, ClientPublic: &client.PublicKey},
		repository.NewMerchantKeyStore(),
		repository.NewMemoryNonceStore(time.Minute),
		5*time.Minute,
	)
	return NewRouter(NewPeerHandler(service), opts...)
}

func exchangeBody(t *testing.T, merchantID int64, nonce string) []byte {
	t.Helper()
	server, client := testKeys(t)
	plain, err := domain.ExchangeRequest{MerchantID: merchantID, Nonce: nonce, Timestamp: time.Now().UnixMilli()}.Canonical()
	if err != nil {
		t.Fatal(err)
	}
	ct, err := asymmetric.Encrypt(&server.PublicKey, plain)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := asymmetric.Sign(client, plain)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(domain.ExchangeEnvelope{Ciphertext: codec.Encode(ct), Signature: codec.Encode(sig)})
	return body
}

func doRequest(router http.Handler, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("response is not an error body: %v", err)
	}
	return resp.Code
}

// installKeys は鍵交換を行い、応答から発行された鍵を取り出す。
func installKeys(t *testing.T, router http.Handler, merchantID int64) *domain.SessionKeys {
	t.Helper()
	_, client := testKeys(t)

	rec := doRequest(router, transport.ExchangePath, exchangeBody(t, merchantID, "nonce-"+strconv.FormatInt(merchantID, 10)), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var env domain.ExchangeEnvelope
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	ct, _ := codec.Decode(env.Ciphertext)
	plain, err := asymmetric.Decrypt(client, ct)
	if err != nil {
		t.Fatalf("client could not decrypt response: %v", err)
	}
	resp, err := domain.ParseExchangeResponse(plain)
	if err != nil {
		t.Fatal(err)
	}
	aesKey, _ := codec.Decode(resp.AESKey)
	hmacKey, _ := codec.Decode(resp.HMACKey)
	return &domain.SessionKeys{MerchantID: resp.MerchantID, AESKey: aesKey, HMACKey: hmacKey}
}

func TestRequestExchange_Success(t *testing.T) {
	router := setupRouter(t)

	keys := installKeys(t, router, 42)
	if keys.MerchantID != 42 {
		t.Errorf("want merchant 42, got %d", keys.MerchantID)
	}
	if err := keys.Validate(); err != nil {
		t.Errorf("issued keys invalid: %v", err)
	}
}

func TestRequestExchange_InvalidBody(t *testing.T) {
	router := setupRouter(t)

	rec := doRequest(router, transport.ExchangePath, []byte(`{"ciphertext":1}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "INVALID_BODY" {
		t.Errorf("want INVALID_BODY, got %s", code)
	}
}

func TestRequestExchange_Replay(t *testing.T) {
	router := setupRouter(t)
	body := exchangeBody(t, 42, "same-nonce")

	if rec := doRequest(router, transport.ExchangePath, body, nil); rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	rec := doRequest(router, transport.ExchangePath, body, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("want status 409, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "REPLAYED_NONCE" {
		t.Errorf("want REPLAYED_NONCE, got %s", code)
	}
}

func TestRequestExchange_Unauthenticated(t *testing.T) {
	router := setupRouter(t)
	body, _ := json.Marshal(domain.ExchangeEnvelope{
		Ciphertext: codec.Encode([]byte("not rsa")),
		Signature:  codec.Encode([]byte("sig")),
	})

	rec := doRequest(router, transport.ExchangePath, body, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("want status 401, got %d", rec.Code)
	}
}

func TestRouter_AttemptLimiterBlocksRepeatedFailures(t *testing.T) {
	router := setupRouter(t, WithAttemptLimiter(middleware.NewAttemptLimiter(2, time.Minute)))
	bad, _ := json.Marshal(domain.ExchangeEnvelope{
		Ciphertext: codec.Encode([]byte("not rsa")),
		Signature:  codec.Encode([]byte("sig")),
	})

	for i := 0; i < 2; i++ {
		if rec := doRequest(router, transport.ExchangePath, bad, nil); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: want 401, got %d", i+1, rec.Code)
		}
	}

	// 正しい要求でも遮断中は拒否される
	rec := doRequest(router, transport.ExchangePath, exchangeBody(t, 42, "after-block"), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429 while blocked, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "TOO_MANY_FAILURES" {
		t.Errorf("want TOO_MANY_FAILURES, got %s", code)
	}
}

func TestRouter_ExchangeRateLimit(t *testing.T) {
	router := setupRouter(t, WithExchangeRateLimit(1, 1, time.Minute))

	if rec := doRequest(router, transport.ExchangePath, exchangeBody(t, 42, "rl-1"), nil); rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	rec := doRequest(router, transport.ExchangePath, exchangeBody(t, 42, "rl-2"), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("want 429, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "RATE_LIMITED" {
		t.Errorf("want RATE_LIMITED, got %s", code)
	}

	// 取引エンドポイントには制限がかからない
	if rec := doRequest(router, transport.TransactionsPath, []byte("{}"), nil); rec.Code == http.StatusTooManyRequests {
		t.Error("transactions route should not be rate limited")
	}
}

func TestRouter_Metrics(t *testing.T) {
	router := setupRouter(t, WithMetrics(middleware.NewMetrics()))

	installKeys(t, router, 42)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}
	want := `sandbox_http_requests_total{route="` + transport.ExchangePath + `",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics missing %q", want)
	}
}

func signTransaction(t *testing.T, keys *domain.SessionKeys, pan string) ([]byte, map[string]string) {
	t.Helper()
	iv, _ := codec.RandomBytes(symmetric.IVSize)
	ct, err := symmetric.EncryptPan(keys.AESKey, iv, []byte(pan))
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(domain.TransactionPayload{
		MerchantID: keys.MerchantID,
		Amount:     decimal.RequireFromString("99.95"),
		Currency:   "JPY",
		Pan:        domain.EncryptedPan{Ciphertext: codec.Encode(ct), IV: codec.Encode(iv)},
	})
	ts := time.Now().UnixMilli()
	sig := symmetric.HMAC(keys.HMACKey, domain.SigningInput(body, ts))
	return body, map[string]string{
		transport.HeaderSignature: codec.Encode(sig),
		transport.HeaderTimestamp: strconv.FormatInt(ts, 10),
	}
}

func TestSubmitTransaction_Success(t *testing.T) {
	router := setupRouter(t)
	keys := installKeys(t, router, 7)

	body, headers := signTransaction(t, keys, "4242424242424242")
	rec := doRequest(router, transport.TransactionsPath, body, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var receipt domain.TransactionReceipt
	json.NewDecoder(rec.Body).Decode(&receipt)
	if receipt.MerchantID != 7 || receipt.PanLast4 != "4242" {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestSubmitTransaction_Errors(t *testing.T) {
	router := setupRouter(t)
	keys := installKeys(t, router, 7)

	t.Run("missing headers", func(t *testing.T) {
		body, _ := signTransaction(t, keys, "4242424242424242")
		rec := doRequest(router, transport.TransactionsPath, body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("want status 400, got %d", rec.Code)
		}
	})

	t.Run("no session", func(t *testing.T) {
		other := &domain.SessionKeys{MerchantID: 8, AESKey: keys.AESKey, HMACKey: keys.HMACKey}
		body, headers := signTransaction(t, other, "4242424242424242")
		rec := doRequest(router, transport.TransactionsPath, body, headers)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("want status 401, got %d", rec.Code)
		}
		if code := errorCode(t, rec); code != "NO_SESSION" {
			t.Errorf("want NO_SESSION, got %s", code)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		body, headers := signTransaction(t, keys, "4242424242424242")
		headers[transport.HeaderSignature] = codec.Encode(make([]byte, 32))
		rec := doRequest(router, transport.TransactionsPath, body, headers)
		if code := errorCode(t, rec); code != "AUTHENTICATION_FAILED" {
			t.Errorf("want AUTHENTICATION_FAILED, got %s", code)
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, headers := signTransaction(t, keys, "4242424242424242")
		rec := doRequest(router, transport.TransactionsPath, []byte(`{"merchantId":7,"extra":true}`), headers)
		if code := errorCode(t, rec); code != "MALFORMED_MESSAGE" {
			t.Errorf("want MALFORMED_MESSAGE, got %s", code)
		}
	})

	t.Run("invalid pan", func(t *testing.T) {
		body, headers := signTransaction(t, keys, "4242")
		rec := doRequest(router, transport.TransactionsPath, body, headers)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("want status 400, got %d", rec.Code)
		}
		if code := errorCode(t, rec); code != "INVALID_INPUT" {
			t.Errorf("want INVALID_INPUT, got %s", code)
		}
	})
}

func TestHealth(t *testing.T) {
	router := setupRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
}

// TestClientAgainstSandbox はHTTP越しにクライアントとサンドボックスを通しで動かす。
func TestClientAgainstSandbox(t *testing.T) {
	srv := httptest.NewServer(setupRouter(t))
	defer srv.Close()

	server, client := testKeys(t)
	ctx := context.Background()
	store := repository.NewSessionKeyStore()
	peer := transport.NewPeerClientWithHTTP(srv.URL, srv.Client())
	ring := asymmetric.NewStaticKeyRing(&asymmetric.KeyPair{ServerPublic: &server.PublicKey, ClientPrivate: client})

	exchange := usecase.NewExchangeService(ring, peer, store)
	transactions := usecase.NewTransactionService(store, peer)

	// 鍵交換前はセッションがない
	_, _, err := transactions.Submit(ctx, &usecase.TransactionInput{
		MerchantID: 7, Amount: decimal.RequireFromString("10"), Currency: "USD", Pan: "4111111111111111",
	})
	if !errors.Is(err, domain.ErrNoSession) {
		t.Fatalf("want ErrNoSession before exchange, got %v", err)
	}

	if _, err := exchange.Run(ctx, 7); err != nil {
		t.Fatalf("exchange failed: %v", err)
	}

	receipt, signed, err := transactions.Submit(ctx, &usecase.TransactionInput{
		MerchantID: 7, Amount: decimal.RequireFromString("10"), Currency: "USD", Pan: "4111111111111111",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if receipt.PanLast4 != "1111" {
		t.Errorf("want pan last4 1111, got %s", receipt.PanLast4)
	}

	// 同じバイト列の再送も受理される
	again, err := transactions.Resubmit(ctx, signed)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if again.TransactionID == receipt.TransactionID {
		t.Error("want a new transaction id for the resubmission")
	}

	// 別の加盟店で鍵交換するとmerchant 7 のセッションは置き換わる
	if _, err := exchange.Run(ctx, 8); err != nil {
		t.Fatalf("second exchange failed: %v", err)
	}
	_, _, err = transactions.Submit(ctx, &usecase.TransactionInput{
		MerchantID: 7, Amount: decimal.RequireFromString("10"), Currency: "USD", Pan: "4111111111111111",
	})
	if !errors.Is(err, domain.ErrSessionMismatch) {
		t.Errorf("want ErrSessionMismatch after replacement, got %v", err)
	}
}
