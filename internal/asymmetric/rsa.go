package asymmetric

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"payment-session-client/internal/domain"
)

// OAEPとPSSの両方で同じハッシュを使う。暗号化と復号で異なるハッシュを使ってはならない。
const hashFunc = crypto.SHA256

var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthEqualsHash,
	Hash:       hashFunc,
}

// Encrypt はRSA-OAEP(SHA-256)で平文を暗号化する。
func Encrypt(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	if pub == nil {
		return nil, fmt.Errorf("%w: nil public key", domain.ErrKeyFormat)
	}
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("encrypting with RSA-OAEP: %w", err)
	}
	return ct, nil
}

// Decrypt はRSA-OAEP(SHA-256)で暗号文を復号する。
func Decrypt(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", domain.ErrKeyFormat)
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return pt, nil
}

// Sign はRSA-PSS(SHA-256、ソルト長=ハッシュ長)でメッセージに署名する。
func Sign(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	if priv == nil {
		return nil, fmt.Errorf("%w: nil private key", domain.ErrKeyFormat)
	}
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, priv, hashFunc, digest[:], pssOptions)
	if err != nil {
		return nil, fmt.Errorf("signing with RSA-PSS: %w", err)
	}
	return sig, nil
}

// Verify はRSA-PSS署名を検証する。
// 署名が一致しない場合はエラーではなくfalseを返す。
func Verify(pub *rsa.PublicKey, message, signature []byte) (bool, error) {
	if pub == nil {
		return false, fmt.Errorf("%w: nil public key", domain.ErrKeyFormat)
	}
	digest := sha256.Sum256(message)
	// VerifyPSSは不一致・長さ不正のいずれもrsa.ErrVerificationを返す
	if err := rsa.VerifyPSS(pub, hashFunc, digest[:], signature, pssOptions); err != nil {
		return false, nil
	}
	return true, nil
}
