package symmetric

import (
	"fmt"
	"sync"

	"payment-session-client/internal/codec"
)

// PanCipher は1つのAES鍵に紐づき、同じ鍵でのIV再利用を拒否する。
type PanCipher struct {
	key []byte

	mu   sync.Mutex
	used map[[IVSize]byte]struct{}
}

// NewPanCipher は鍵を複製してPanCipherを生成する。
func NewPanCipher(key []byte) *PanCipher {
	return &PanCipher{
		key:  append([]byte(nil), key...),
		used: make(map[[IVSize]byte]struct{}),
	}
}

// NewIV は新しいランダムIVを生成する。
func (c *PanCipher) NewIV() ([]byte, error) {
	return codec.RandomBytes(IVSize)
}

// Seal はPANを暗号化する。同じIVの2回目の使用はpanicする。
func (c *PanCipher) Seal(iv, plaintextPan []byte) ([]byte, error) {
	if len(iv) != IVSize {
		panic(fmt.Sprintf("symmetric: iv must be %d bytes, got %d", IVSize, len(iv)))
	}
	var k [IVSize]byte
	copy(k[:], iv)

	c.mu.Lock()
	if _, seen := c.used[k]; seen {
		c.mu.Unlock()
		panic("symmetric: iv reused under the same key")
	}
	c.used[k] = struct{}{}
	c.mu.Unlock()

	return EncryptPan(c.key, iv, plaintextPan)
}

// Open はPANを復号する。
func (c *PanCipher) Open(iv, ciphertext []byte) ([]byte, error) {
	return DecryptPan(c.key, iv, ciphertext)
}
