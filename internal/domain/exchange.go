// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ExchangeState は鍵交換ラウンドの状態を表す。
type ExchangeState string

const (
	ExchangeIdle             ExchangeState = "idle"
	ExchangeRequestBuilt     ExchangeState = "request_built"
	ExchangeEncrypted        ExchangeState = "encrypted"
	ExchangeSent             ExchangeState = "sent"
	ExchangeResponseReceived ExchangeState = "response_received"
	ExchangeKeysInstalled    ExchangeState = "keys_installed"
	ExchangeFailed           ExchangeState = "failed"
)

// ExchangeRequest は鍵交換リクエストの平文。
// フィールド順はJSONの出力順として固定される。
type ExchangeRequest struct {
	MerchantID int64  `json:"merchantId"`
	Nonce      string `json:"nonce"`
	Timestamp  int64  `json:"timestamp"`
}

// Canonical は暗号化と署名の両方に渡すバイト列を返す。
func (r ExchangeRequest) Canonical() ([]byte, error) {
	return json.Marshal(r)
}

// ParseExchangeRequest は正規化済みのリクエスト平文を厳密に復元する。
func ParseExchangeRequest(plaintext []byte) (*ExchangeRequest, error) {
	var req ExchangeRequest
	if err := decodeStrict(plaintext, &req); err != nil {
		return nil, fmt.Errorf("%w: exchange request: %v", ErrProtocol, err)
	}
	if req.MerchantID <= 0 || req.Nonce == "" || req.Timestamp <= 0 {
		return nil, fmt.Errorf("%w: exchange request has empty fields", ErrProtocol)
	}
	return &req, nil
}

// ExchangeEnvelope はピアとの間で送受信される暗号化・署名済みの封筒。
type ExchangeEnvelope struct {
	Ciphertext string `json:"ciphertext"`
	Signature  string `json:"signature"`
}

// ExchangeResponse はピアが返す鍵交換応答の平文。
type ExchangeResponse struct {
	AESKey     string `json:"aesKeyBase64"`
	HMACKey    string `json:"hmacKeyBase64"`
	MerchantID int64  `json:"merchantId"`
}

// Canonical はピアが暗号化・署名するバイト列を返す。
func (r ExchangeResponse) Canonical() ([]byte, error) {
	return json.Marshal(r)
}

// ParseExchangeResponse は復号済みの応答平文を厳密に復元する。
func ParseExchangeResponse(plaintext []byte) (*ExchangeResponse, error) {
	var resp ExchangeResponse
	if err := decodeStrict(plaintext, &resp); err != nil {
		return nil, fmt.Errorf("%w: exchange response: %v", ErrProtocol, err)
	}
	if resp.AESKey == "" || resp.HMACKey == "" || resp.MerchantID <= 0 {
		return nil, fmt.Errorf("%w: exchange response has empty fields", ErrProtocol)
	}
	return &resp, nil
}

// AESKeySize はセッションAES鍵の長さ（AES-256）。
const AESKeySize = 32

// MinHMACKeySize はセッションHMAC鍵の最小長。
const MinHMACKeySize = 32

// SessionKeys は加盟店ごとに発行される対称鍵。
type SessionKeys struct {
	MerchantID int64
	AESKey     []byte
	HMACKey    []byte
}

// Validate は鍵長を検証する。
func (k *SessionKeys) Validate() error {
	if k.MerchantID <= 0 {
		return fmt.Errorf("%w: session keys without merchant", ErrProtocol)
	}
	if len(k.AESKey) != AESKeySize {
		return fmt.Errorf("%w: aes key must be %d bytes, got %d", ErrProtocol, AESKeySize, len(k.AESKey))
	}
	if len(k.HMACKey) < MinHMACKeySize {
		return fmt.Errorf("%w: hmac key must be at least %d bytes, got %d", ErrProtocol, MinHMACKeySize, len(k.HMACKey))
	}
	return nil
}

// Clone は鍵バイト列を複製したコピーを返す。
func (k *SessionKeys) Clone() *SessionKeys {
	return &SessionKeys{
		MerchantID: k.MerchantID,
		AESKey:     bytes.Clone(k.AESKey),
		HMACKey:    bytes.Clone(k.HMACKey),
	}
}

// Zeroize は鍵バイト列をゼロで上書きする。
func (k *SessionKeys) Zeroize() {
	clear(k.AESKey)
	clear(k.HMACKey)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}
