package domain

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// PANLength はカード番号の桁数。
const PANLength = 16

// EncryptedPan はAES-GCMで暗号化されたカード番号。
type EncryptedPan struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// TransactionPayload はHMAC入力とリクエストボディを兼ねる取引データ。
// フィールド順はJSONの出力順として固定される。
type TransactionPayload struct {
	MerchantID int64           `json:"merchantId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Pan        EncryptedPan    `json:"pan"`
}

// SignedTransaction は送信可能な署名済み取引。
// Body は署名対象と同一のバイト列で、再送時もそのまま使う。
type SignedTransaction struct {
	Payload   TransactionPayload
	Body      []byte
	Signature string
	Timestamp int64
}

// SigningInput は署名対象のバイト列を返す。
// 形式: 正規化済みペイロード || 10進数のミリ秒タイムスタンプ
func SigningInput(body []byte, timestamp int64) []byte {
	ts := strconv.FormatInt(timestamp, 10)
	out := make([]byte, 0, len(body)+len(ts))
	out = append(out, body...)
	return append(out, ts...)
}

// ParseTransactionPayload は受信したボディを厳密に復元する。
func ParseTransactionPayload(body []byte) (*TransactionPayload, error) {
	var p TransactionPayload
	if err := decodeStrict(body, &p); err != nil {
		return nil, fmt.Errorf("%w: transaction payload: %v", ErrProtocol, err)
	}
	if p.MerchantID <= 0 || p.Pan.Ciphertext == "" || p.Pan.IV == "" {
		return nil, fmt.Errorf("%w: transaction payload has empty fields", ErrProtocol)
	}
	return &p, nil
}

// TransactionReceipt はピアが受理した取引の結果。
type TransactionReceipt struct {
	TransactionID string `json:"transactionId"`
	MerchantID    int64  `json:"merchantId"`
	Status        string `json:"status"`
	PanLast4      string `json:"panLast4,omitempty"`
}
