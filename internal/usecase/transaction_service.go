package usecase

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"payment-session-client/internal/codec"
	"payment-session-client/internal/domain"
	"payment-session-client/internal/symmetric"
)

// TransactionInput は利用者から受け取る取引内容。
type TransactionInput struct {
	MerchantID int64           `json:"merchantId" validate:"gt=0"`
	Amount     decimal.Decimal `json:"amount" validate:"positive"`
	Currency   string          `json:"currency" validate:"len=3,alpha,uppercase"`
	Pan        string          `json:"pan" validate:"pan"`
}

// PanSealer はPANをAEADで暗号化するインターフェース。
type PanSealer interface {
	NewIV() ([]byte, error)
	Seal(iv, plaintextPan []byte) ([]byte, error)
}

// SealerFactory はAES鍵に紐づくPanSealerを生成する。
type SealerFactory func(aesKey []byte) PanSealer

func newPanCipher(aesKey []byte) PanSealer {
	return symmetric.NewPanCipher(aesKey)
}

// TransactionService は取引の検証・暗号化・署名・送信を行う。
type TransactionService struct {
	store     SessionStore
	peer      Peer
	journal   Journal
	now       func() time.Time
	newSealer SealerFactory
	validate  *validator.Validate

	mu          sync.Mutex
	sealerKey   []byte
	sealerOwner int64
	sealer      PanSealer
}

// TransactionOption はTransactionServiceの設定を変更する。
type TransactionOption func(*TransactionService)

// WithTransactionJournal は実行記録の保存先を設定する。
func WithTransactionJournal(j Journal) TransactionOption {
	return func(s *TransactionService) { s.journal = j }
}

// WithTransactionClock は現在時刻の取得関数を差し替える。
func WithTransactionClock(now func() time.Time) TransactionOption {
	return func(s *TransactionService) { s.now = now }
}

// WithSealerFactory はPanSealerの生成関数を差し替える。
func WithSealerFactory(f SealerFactory) TransactionOption {
	return func(s *TransactionService) { s.newSealer = f }
}

// NewTransactionService は新しいTransactionServiceを生成する。
func NewTransactionService(store SessionStore, peer Peer, opts ...TransactionOption) *TransactionService {
	s := &TransactionService{
		store:     store,
		peer:      peer,
		now:       time.Now,
		newSealer: newPanCipher,
		validate:  newInputValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newInputValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// エラーのフィールド名にJSONタグを使う
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// decimalは文字列表現のまま検証し、float64への丸めを避ける
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("positive", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && d.IsPositive()
	})

	_ = v.RegisterValidation("pan", func(fl validator.FieldLevel) bool {
		return isPAN(fl.Field().String())
	})

	return v
}

// isPAN は16桁のASCII数字かどうかを返す。
func isPAN(s string) bool {
	if len(s) != domain.PANLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Validate は取引内容を検証し、不正な場合は最初のフィールドの *domain.ValidationError を返す。
func (s *TransactionService) Validate(in *TransactionInput) error {
	if in == nil {
		return &domain.ValidationError{Field: "input", Reason: "is required"}
	}
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &domain.ValidationError{Field: fe.Field(), Reason: validationReason(fe)}
	}
	return &domain.ValidationError{Field: "input", Reason: err.Error()}
}

func validationReason(fe validator.FieldError) string {
	switch fe.Field() {
	case "merchantId":
		return "must be a positive merchant id"
	case "amount":
		return "must be a positive decimal"
	case "currency":
		return "must be a 3-letter upper-case currency code"
	case "pan":
		return fmt.Sprintf("must be exactly %d digits", domain.PANLength)
	}
	return fmt.Sprintf("failed on %s", fe.Tag())
}

// Prepare は取引を検証・暗号化・署名し、送信可能な SignedTransaction を返す。
// 入力が不正な場合は暗号処理を行う前に失敗する。
func (s *TransactionService) Prepare(ctx context.Context, in *TransactionInput) (*domain.SignedTransaction, error) {
	if err := s.Validate(in); err != nil {
		return nil, err
	}

	keys, err := s.store.Get(in.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNoSession, err)
	}
	defer keys.Zeroize()

	sealer := s.sealerFor(keys)

	// 新しいIVでPANを暗号化
	iv, err := sealer.NewIV()
	if err != nil {
		return nil, err
	}
	pan := []byte(in.Pan)
	defer clear(pan)
	ciphertext, err := sealer.Seal(iv, pan)
	if err != nil {
		return nil, err
	}

	payload := domain.TransactionPayload{
		MerchantID: in.MerchantID,
		Amount:     in.Amount,
		Currency:   in.Currency,
		Pan: domain.EncryptedPan{
			Ciphertext: codec.Encode(ciphertext),
			IV:         codec.Encode(iv),
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serializing transaction payload: %w", err)
	}

	// 署名対象: ボディ || タイムスタンプ
	timestamp := s.now().UnixMilli()
	signature := symmetric.HMAC(keys.HMACKey, domain.SigningInput(body, timestamp))

	return &domain.SignedTransaction{
		Payload:   payload,
		Body:      body,
		Signature: codec.Encode(signature),
		Timestamp: timestamp,
	}, nil
}

// Submit は取引を準備して送信する。送信に失敗しても再送しない。
func (s *TransactionService) Submit(ctx context.Context, in *TransactionInput) (*domain.TransactionReceipt, *domain.SignedTransaction, error) {
	ctx, span := tracer.Start(ctx, "transaction.submit")
	defer span.End()

	if in == nil {
		err := s.Validate(in)
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare")
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int64("merchant.id", in.MerchantID))

	signed, err := s.Prepare(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare")
		slog.WarnContext(ctx, "transaction rejected",
			"operation", "transaction",
			"merchant_id", in.MerchantID,
			"error", err,
		)
		s.record(ctx, &domain.JournalEntry{
			Kind:       domain.JournalKindTransaction,
			MerchantID: in.MerchantID,
			Result:     domain.JournalResultFailed,
			Amount:     in.Amount.String(),
			Currency:   in.Currency,
			Timestamp:  s.now().UnixMilli(),
			Error:      err.Error(),
		})
		return nil, nil, err
	}

	receipt, err := s.Resubmit(ctx, signed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		return nil, signed, err
	}
	return receipt, signed, nil
}

// Resubmit は署名済みの取引をそのまま送信する。再暗号化は行わない。
func (s *TransactionService) Resubmit(ctx context.Context, signed *domain.SignedTransaction) (*domain.TransactionReceipt, error) {
	entry := &domain.JournalEntry{
		Kind:       domain.JournalKindTransaction,
		MerchantID: signed.Payload.MerchantID,
		Result:     domain.JournalResultSuccess,
		Amount:     signed.Payload.Amount.String(),
		Currency:   signed.Payload.Currency,
		Signature:  signed.Signature,
		Timestamp:  signed.Timestamp,
	}

	receipt, err := s.peer.SubmitTransaction(ctx, signed)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, domain.ErrCanceled) {
			err = fmt.Errorf("%w: %v", domain.ErrCanceled, err)
		}
		slog.WarnContext(ctx, "transaction submission failed",
			"operation", "transaction",
			"merchant_id", signed.Payload.MerchantID,
			"error", err,
		)
		entry.Result = domain.JournalResultFailed
		entry.Error = err.Error()
		s.record(ctx, entry)
		return nil, err
	}

	slog.InfoContext(ctx, "transaction submitted",
		"operation", "transaction",
		"merchant_id", signed.Payload.MerchantID,
		"transaction_id", receipt.TransactionID,
	)
	s.record(ctx, entry)
	return receipt, nil
}

// sealerFor はセッション鍵ごとに1つのPanSealerを返す。鍵が変わると作り直す。
func (s *TransactionService) sealerFor(keys *domain.SessionKeys) PanSealer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealer != nil && s.sealerOwner == keys.MerchantID &&
		len(s.sealerKey) == len(keys.AESKey) && subtle.ConstantTimeCompare(s.sealerKey, keys.AESKey) == 1 {
		return s.sealer
	}

	clear(s.sealerKey)
	s.sealerKey = bytes.Clone(keys.AESKey)
	s.sealerOwner = keys.MerchantID
	s.sealer = s.newSealer(keys.AESKey)
	return s.sealer
}

func (s *TransactionService) record(ctx context.Context, entry *domain.JournalEntry) {
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
