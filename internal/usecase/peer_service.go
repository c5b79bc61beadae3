package usecase

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/codec"
	"payment-session-client/internal/domain"
	"payment-session-client/internal/symmetric"
)

// NonceStore は受信済みnonceを記録するインターフェース。
// 初めてのnonceなら true を返す。
type NonceStore interface {
	Remember(ctx context.Context, nonce string) (bool, error)
}

// MerchantKeyRegistry は加盟店ごとの発行済みセッション鍵を保持するインターフェース。
type MerchantKeyRegistry interface {
	Put(keys *domain.SessionKeys)
	Find(merchantID int64) *domain.SessionKeys
}

// PeerKeys はサンドボックスピアが使うRSA鍵。
type PeerKeys struct {
	ServerPrivate *rsa.PrivateKey
	ClientPublic  *rsa.PublicKey
}

// PeerService は開発用のピア（鍵交換・取引受付）を実装する。
type PeerService struct {
	keys      *PeerKeys
	merchants MerchantKeyRegistry
	nonces    NonceStore
	maxSkew   time.Duration
	now       func() time.Time
}

// NewPeerService は新しいPeerServiceを生成する。
func NewPeerService(keys *PeerKeys, merchants MerchantKeyRegistry, nonces NonceStore, maxSkew time.Duration) *PeerService {
	return &PeerService{
		keys:      keys,
		merchants: merchants,
		nonces:    nonces,
		maxSkew:   maxSkew,
		now:       time.Now,
	}
}

// Exchange は鍵交換リクエストを検証し、新しいセッション鍵を暗号化・署名して返す。
func (s *PeerService) Exchange(ctx context.Context, envelope *domain.ExchangeEnvelope) (*domain.ExchangeEnvelope, error) {
	ciphertext, err := codec.Decode(envelope.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext: %v", domain.ErrProtocol, err)
	}
	signature, err := codec.Decode(envelope.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", domain.ErrProtocol, err)
	}

	plaintext, err := asymmetric.Decrypt(s.keys.ServerPrivate, ciphertext)
	if err != nil {
		return nil, err
	}
	ok, err := asymmetric.Verify(s.keys.ClientPublic, plaintext, signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: exchange request signature", domain.ErrAuthentication)
	}

	req, err := domain.ParseExchangeRequest(plaintext)
	if err != nil {
		return nil, err
	}
	if err := s.checkSkew(req.Timestamp); err != nil {
		return nil, err
	}
	fresh, err := s.nonces.Remember(ctx, req.Nonce)
	if err != nil {
		return nil, fmt.Errorf("remembering nonce: %w", err)
	}
	if !fresh {
		return nil, fmt.Errorf("%w: %s", domain.ErrReplay, req.Nonce)
	}

	// 新しいセッション鍵を発行
	aesKey, err := codec.RandomBytes(domain.AESKeySize)
	if err != nil {
		return nil, err
	}
	hmacKey, err := codec.RandomBytes(domain.MinHMACKeySize)
	if err != nil {
		return nil, err
	}
	sessionKeys := &domain.SessionKeys{MerchantID: req.MerchantID, AESKey: aesKey, HMACKey: hmacKey}
	defer sessionKeys.Zeroize()

	resp := domain.ExchangeResponse{
		AESKey:     codec.Encode(aesKey),
		HMACKey:    codec.Encode(hmacKey),
		MerchantID: req.MerchantID,
	}
	respPlain, err := resp.Canonical()
	if err != nil {
		return nil, fmt.Errorf("serializing exchange response: %w", err)
	}
	defer clear(respPlain)

	respCiphertext, err := asymmetric.Encrypt(s.keys.ClientPublic, respPlain)
	if err != nil {
		return nil, err
	}
	respSignature, err := asymmetric.Sign(s.keys.ServerPrivate, respPlain)
	if err != nil {
		return nil, err
	}

	s.merchants.Put(sessionKeys)
	slog.InfoContext(ctx, "session keys issued",
		"operation", "exchange",
		"merchant_id", req.MerchantID,
		"nonce", req.Nonce,
	)

	return &domain.ExchangeEnvelope{
		Ciphertext: codec.Encode(respCiphertext),
		Signature:  codec.Encode(respSignature),
	}, nil
}

// AcceptTransaction は署名・タイムスタンプを検証し、PANを復号して取引を受け付ける。
func (s *PeerService) AcceptTransaction(ctx context.Context, body []byte, signatureB64, timestampHeader string) (*domain.TransactionReceipt, error) {
	timestamp, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp header %q", domain.ErrProtocol, timestampHeader)
	}
	signature, err := codec.Decode(signatureB64)
	if err != nil {
		return nil, fmt.Errorf("%w: signature header: %v", domain.ErrProtocol, err)
	}

	payload, err := domain.ParseTransactionPayload(body)
	if err != nil {
		return nil, err
	}

	keys := s.merchants.Find(payload.MerchantID)
	if keys == nil {
		return nil, fmt.Errorf("%w: merchant %d", domain.ErrNoSession, payload.MerchantID)
	}
	defer keys.Zeroize()

	// 受信したバイト列そのものに対して検証する
	if !symmetric.VerifyHMAC(keys.HMACKey, domain.SigningInput(body, timestamp), signature) {
		return nil, fmt.Errorf("%w: transaction signature", domain.ErrAuthentication)
	}
	if err := s.checkSkew(timestamp); err != nil {
		return nil, err
	}

	iv, err := codec.Decode(payload.Pan.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: pan iv: %v", domain.ErrProtocol, err)
	}
	ciphertext, err := codec.Decode(payload.Pan.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: pan ciphertext: %v", domain.ErrProtocol, err)
	}
	pan, err := symmetric.DecryptPan(keys.AESKey, iv, ciphertext)
	if err != nil {
		return nil, err
	}
	defer clear(pan)

	if !isPAN(string(pan)) {
		return nil, &domain.ValidationError{Field: "pan", Reason: fmt.Sprintf("must be exactly %d digits", domain.PANLength)}
	}
	if !payload.Amount.IsPositive() {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be a positive decimal"}
	}

	receipt := &domain.TransactionReceipt{
		TransactionID: uuid.NewString(),
		MerchantID:    payload.MerchantID,
		Status:        "accepted",
		PanLast4:      string(pan[len(pan)-4:]),
	}
	slog.InfoContext(ctx, "transaction accepted",
		"operation", "transaction",
		"merchant_id", payload.MerchantID,
		"transaction_id", receipt.TransactionID,
		"amount", payload.Amount.String(),
		"currency", payload.Currency,
	)
	return receipt, nil
}

// checkSkew はタイムスタンプが許容範囲内かを確認する。maxSkew が0なら検査しない。
func (s *PeerService) checkSkew(timestampMillis int64) error {
	if s.maxSkew <= 0 {
		return nil
	}
	diff := s.now().Sub(time.UnixMilli(timestampMillis))
	if diff < 0 {
		diff = -diff
	}
	if diff > s.maxSkew {
		return fmt.Errorf("%w: off by %s", domain.ErrStaleTimestamp, diff.Truncate(time.Millisecond))
	}
	return nil
}
