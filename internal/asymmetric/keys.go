// Package asymmetric はRSA-OAEP暗号化、RSA-PSS署名、PEM鍵の読み込みを提供する。
package asymmetric

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"payment-session-client/internal/codec"
	"payment-session-client/internal/domain"
)

// MinKeyBits は受け入れるRSA鍵の最小ビット長。
const MinKeyBits = 2048

// stripArmor はPEMの-----BEGIN/END-----行と空白を除去してDERを返す。
func stripArmor(pemText string) ([]byte, error) {
	var body strings.Builder
	for _, line := range strings.Split(pemText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-----") {
			continue
		}
		body.WriteString(strings.Join(strings.Fields(line), ""))
	}
	if body.Len() == 0 {
		return nil, fmt.Errorf("%w: empty PEM body", domain.ErrKeyFormat)
	}
	der, err := codec.Decode(body.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyFormat, err)
	}
	return der, nil
}

// LoadPublicKey はSPKI形式のPEMからRSA公開鍵を読み込む。
func LoadPublicKey(pemText string) (*rsa.PublicKey, error) {
	der, err := stripArmor(pemText)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing SPKI: %v", domain.ErrKeyFormat, err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: SPKI key is %T, not RSA", domain.ErrKeyFormat, parsed)
	}
	if pub.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("%w: RSA key is %d bits, need at least %d", domain.ErrKeyFormat, pub.N.BitLen(), MinKeyBits)
	}
	return pub, nil
}

// LoadPrivateKey はPKCS#8形式のPEMからRSA秘密鍵を読み込む。
func LoadPrivateKey(pemText string) (*rsa.PrivateKey, error) {
	der, err := stripArmor(pemText)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing PKCS#8: %v", domain.ErrKeyFormat, err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: PKCS#8 key is %T, not RSA", domain.ErrKeyFormat, parsed)
	}
	if priv.N.BitLen() < MinKeyBits {
		return nil, fmt.Errorf("%w: RSA key is %d bits, need at least %d", domain.ErrKeyFormat, priv.N.BitLen(), MinKeyBits)
	}
	return priv, nil
}

// KeyPairPEM はPEMエンコード済みの鍵ペア。
type KeyPairPEM struct {
	PrivateKey []byte // PKCS#8
	PublicKey  []byte // SPKI
}

// GenerateKeyPair は新しいRSA鍵ペアを生成してPEMで返す。
func GenerateKeyPair(bits int) (*KeyPairPEM, error) {
	if bits < MinKeyBits {
		return nil, fmt.Errorf("%w: RSA key must be at least %d bits", domain.ErrValidation, MinKeyBits)
	}
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return &KeyPairPEM{
		PrivateKey: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}),
		PublicKey:  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}),
	}, nil
}
