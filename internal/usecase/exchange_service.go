// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/codec"
	"payment-session-client/internal/domain"
)

var tracer = otel.Tracer("payment-session-client/usecase")

// KeyProvider はRSA鍵ペアを提供するインターフェース。
type KeyProvider interface {
	Keys(ctx context.Context) (*asymmetric.KeyPair, error)
}

// Peer はピアとの通信のインターフェース。
type Peer interface {
	RequestExchange(ctx context.Context, envelope *domain.ExchangeEnvelope) (*domain.ExchangeEnvelope, error)
	SubmitTransaction(ctx context.Context, signed *domain.SignedTransaction) (*domain.TransactionReceipt, error)
}

// SessionStore はセッション鍵の保持のインターフェース。
type SessionStore interface {
	Set(keys *domain.SessionKeys)
	Get(merchantID int64) (*domain.SessionKeys, error)
}

// Journal は実行記録の保存のインターフェース。
type Journal interface {
	Record(ctx context.Context, entry *domain.JournalEntry) error
}

// ExchangeResult は完了した鍵交換の情報（鍵は含まない）。
type ExchangeResult struct {
	MerchantID int64
	Nonce      string
	Timestamp  int64
	State      domain.ExchangeState
}

// ExchangeService は鍵交換の状態遷移を実行する。
type ExchangeService struct {
	keys    KeyProvider
	peer    Peer
	store   SessionStore
	journal Journal
	now     func() time.Time
	nonce   func() string
}

// ExchangeOption はExchangeServiceの設定を変更する。
type ExchangeOption func(*ExchangeService)

// WithExchangeJournal は実行記録の保存先を設定する。
func WithExchangeJournal(j Journal) ExchangeOption {
	return func(s *ExchangeService) { s.journal = j }
}

// WithExchangeClock は現在時刻の取得関数を差し替える。
func WithExchangeClock(now func() time.Time) ExchangeOption {
	return func(s *ExchangeService) { s.now = now }
}

// WithNonceSource はnonceの生成関数を差し替える。
func WithNonceSource(nonce func() string) ExchangeOption {
	return func(s *ExchangeService) { s.nonce = nonce }
}

// NewExchangeService は新しいExchangeServiceを生成する。
func NewExchangeService(keys KeyProvider, peer Peer, store SessionStore, opts ...ExchangeOption) *ExchangeService {
	s := &ExchangeService{
		keys:  keys,
		peer:  peer,
		store: store,
		now:   time.Now,
		nonce: codec.RandomNonce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run は指定された加盟店の鍵交換を1ラウンド実行する。
// 失敗時は失敗した状態を持つ *domain.ExchangeError を返し、セッションストアは変更しない。
func (s *ExchangeService) Run(ctx context.Context, merchantID int64) (*ExchangeResult, error) {
	ctx, span := tracer.Start(ctx, "exchange.run")
	defer span.End()
	span.SetAttributes(attribute.Int64("merchant.id", merchantID))

	round := &exchangeRound{merchantID: merchantID, state: domain.ExchangeIdle}
	err := s.run(ctx, round)

	entry := &domain.JournalEntry{
		Kind:       domain.JournalKindExchange,
		MerchantID: merchantID,
		Timestamp:  round.timestamp,
		Result:     domain.JournalResultSuccess,
	}

	if err != nil {
		exErr := &domain.ExchangeError{State: round.state, Err: err}
		span.RecordError(exErr)
		span.SetStatus(codes.Error, string(round.state))
		slog.WarnContext(ctx, "key exchange failed",
			"operation", "exchange",
			"merchant_id", merchantID,
			"state", round.state,
			"error", err,
		)
		entry.Result = domain.JournalResultFailed
		entry.Error = exErr.Error()
		s.record(ctx, entry)
		return nil, exErr
	}

	slog.InfoContext(ctx, "key exchange completed",
		"operation", "exchange",
		"merchant_id", merchantID,
		"nonce", round.nonce,
	)
	s.record(ctx, entry)

	return &ExchangeResult{
		MerchantID: merchantID,
		Nonce:      round.nonce,
		Timestamp:  round.timestamp,
		State:      round.state,
	}, nil
}

// canceled は呼び出し元のctxが終了している場合、errをErrCanceledとして返す。
func canceled(ctx context.Context, err error) error {
	if ctx.Err() == nil || errors.Is(err, domain.ErrCanceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrCanceled, err)
}

type exchangeRound struct {
	merchantID int64
	nonce      string
	timestamp  int64
	state      domain.ExchangeState
}

func (s *ExchangeService) run(ctx context.Context, round *exchangeRound) error {
	if round.merchantID <= 0 {
		return &domain.ValidationError{Field: "merchantId", Reason: "must be positive"}
	}

	keys, err := s.keys.Keys(ctx)
	if err != nil {
		return canceled(ctx, fmt.Errorf("loading key material: %w", err))
	}

	// Idle -> RequestBuilt
	req := domain.ExchangeRequest{
		MerchantID: round.merchantID,
		Nonce:      s.nonce(),
		Timestamp:  s.now().UnixMilli(),
	}
	round.nonce = req.Nonce
	round.timestamp = req.Timestamp
	round.state = domain.ExchangeRequestBuilt

	// RequestBuilt -> Encrypted（暗号化と署名は同じバイト列を使う）
	plaintext, err := req.Canonical()
	if err != nil {
		return fmt.Errorf("serializing exchange request: %w", err)
	}
	ciphertext, err := asymmetric.Encrypt(keys.ServerPublic, plaintext)
	if err != nil {
		return err
	}
	signature, err := asymmetric.Sign(keys.ClientPrivate, plaintext)
	if err != nil {
		return err
	}
	envelope := &domain.ExchangeEnvelope{
		Ciphertext: codec.Encode(ciphertext),
		Signature:  codec.Encode(signature),
	}
	round.state = domain.ExchangeEncrypted

	// Encrypted -> Sent -> ResponseReceived
	round.state = domain.ExchangeSent
	resp, err := s.peer.RequestExchange(ctx, envelope)
	if err != nil {
		return canceled(ctx, err)
	}
	round.state = domain.ExchangeResponseReceived

	// ResponseReceived -> KeysInstalled
	sessionKeys, err := openExchangeResponse(keys, resp, round.merchantID)
	if err != nil {
		return err
	}
	defer sessionKeys.Zeroize()

	s.store.Set(sessionKeys)
	round.state = domain.ExchangeKeysInstalled
	return nil
}

// openExchangeResponse は応答を復号し、サーバー署名を検証してからセッション鍵を取り出す。
func openExchangeResponse(keys *asymmetric.KeyPair, resp *domain.ExchangeEnvelope, merchantID int64) (*domain.SessionKeys, error) {
	ciphertext, err := codec.Decode(resp.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: response ciphertext: %v", domain.ErrProtocol, err)
	}
	signature, err := codec.Decode(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: response signature: %v", domain.ErrProtocol, err)
	}

	plaintext, err := asymmetric.Decrypt(keys.ClientPrivate, ciphertext)
	if err != nil {
		return nil, err
	}
	defer clear(plaintext)

	ok, err := asymmetric.Verify(keys.ServerPublic, plaintext, signature)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: exchange response signature", domain.ErrAuthentication)
	}

	parsed, err := domain.ParseExchangeResponse(plaintext)
	if err != nil {
		return nil, err
	}
	if parsed.MerchantID != merchantID {
		return nil, fmt.Errorf("%w: response for merchant %d, requested %d", domain.ErrProtocol, parsed.MerchantID, merchantID)
	}

	aesKey, err := codec.Decode(parsed.AESKey)
	if err != nil {
		return nil, fmt.Errorf("%w: aes key: %v", domain.ErrProtocol, err)
	}
	hmacKey, err := codec.Decode(parsed.HMACKey)
	if err != nil {
		clear(aesKey)
		return nil, fmt.Errorf("%w: hmac key: %v", domain.ErrProtocol, err)
	}

	sessionKeys := &domain.SessionKeys{MerchantID: merchantID, AESKey: aesKey, HMACKey: hmacKey}
	if err := sessionKeys.Validate(); err != nil {
		sessionKeys.Zeroize()
		return nil, err
	}
	return sessionKeys, nil
}

func (s *ExchangeService) record(ctx context.Context, entry *domain.JournalEntry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		slog.WarnContext(ctx, "failed to record journal entry",
			"operation", string(entry.Kind),
			"merchant_id", entry.MerchantID,
			"error", err,
		)
	}
}
