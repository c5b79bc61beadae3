// Package symmetric はPANのAES-GCM暗号化と取引ペイロードのHMAC-SHA256を提供する。
package symmetric

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"payment-session-client/internal/domain"
)

// IVSize はGCMの標準nonce長。
const IVSize = 12

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != domain.AESKeySize {
		return nil, fmt.Errorf("%w: aes key must be %d bytes, got %d", domain.ErrKeyFormat, domain.AESKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyFormat, err)
	}
	return cipher.NewGCM(block)
}

// EncryptPan はAES-256-GCMでPANを暗号化する。戻り値は ciphertext || tag。
// IVの長さ違いは呼び出し側の契約違反としてpanicする。
func EncryptPan(key, iv, plaintextPan []byte) ([]byte, error) {
	if len(iv) != IVSize {
		panic(fmt.Sprintf("symmetric: iv must be %d bytes, got %d", IVSize, len(iv)))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, iv, plaintextPan, nil), nil
}

// DecryptPan はAES-256-GCMでPANを復号する。タグ不一致はErrAuthentication。
func DecryptPan(key, iv, ciphertext []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", domain.ErrAuthentication, IVSize, len(iv))
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", domain.ErrAuthentication)
	}
	pt, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthentication, err)
	}
	return pt, nil
}

// HMAC はHMAC-SHA256ダイジェストを計算する。
func HMAC(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifyHMAC はダイジェストを定数時間で比較する。
func VerifyHMAC(key, message, digest []byte) bool {
	return hmac.Equal(HMAC(key, message), digest)
}
