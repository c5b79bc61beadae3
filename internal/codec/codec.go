// Package codec はバイト列・Base64・UTF-8文字列の相互変換と乱数生成を提供する。
package codec

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ErrInvalidUTF8 はUTF-8として不正なバイト列の場合のエラー。
var ErrInvalidUTF8 = errors.New("invalid utf-8")

// Encode はバイト列を標準Base64文字列に変換する。
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode は標準Base64文字列をバイト列に戻す。
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding base64: %w", err)
	}
	return b, nil
}

// UTF8ToBytes は文字列をUTF-8バイト列に変換する。
func UTF8ToBytes(s string) []byte {
	return []byte(s)
}

// BytesToUTF8 はUTF-8バイト列を文字列に変換する。
func BytesToUTF8(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}

// RandomBytes は暗号学的に安全な乱数をnバイト生成する。
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return buf, nil
}

// RandomNonce はリプレイ防止用のnonceを生成する。
func RandomNonce() string {
	return uuid.NewString()
}
