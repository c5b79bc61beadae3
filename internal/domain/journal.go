package domain

import "time"

// JournalKind は記録対象の操作種別を表す。
type JournalKind string

const (
	JournalKindExchange    JournalKind = "exchange"
	JournalKindTransaction JournalKind = "transaction"
)

// JournalResult は操作結果を表す。
type JournalResult string

const (
	JournalResultSuccess JournalResult = "success"
	JournalResultFailed  JournalResult = "failed"
)

// JournalEntry は鍵交換・取引の実行記録（鍵やPANは含まない）。
type JournalEntry struct {
	ID         string        `json:"id"`
	Kind       JournalKind   `json:"kind"`
	MerchantID int64         `json:"merchantId"`
	Result     JournalResult `json:"result"`
	Amount     string        `json:"amount,omitempty"`
	Currency   string        `json:"currency,omitempty"`
	Signature  string        `json:"signature,omitempty"`
	Timestamp  int64         `json:"timestamp"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
}
