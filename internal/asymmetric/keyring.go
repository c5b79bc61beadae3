package asymmetric

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"payment-session-client/internal/domain"
)

// PEMSource はPEMテキストの取得元。
type PEMSource interface {
	Load(ctx context.Context) ([]byte, error)
}

// KeyPair はクライアントが保持する鍵の組。
// ServerPublic は暗号化と応答署名の検証に、ClientPrivate は署名と応答の復号に使う。
type KeyPair struct {
	ServerPublic  *rsa.PublicKey
	ClientPrivate *rsa.PrivateKey
}

// KeyRing は鍵を一度だけ読み込んでプロセス内で保持する。
// 初回の同時呼び出しは1回の読み込みを共有し、失敗した読み込みはキャッシュしない。
// ある呼び出し元のキャンセルは共有中の読み込みや他の呼び出し元に影響しない。
type KeyRing struct {
	serverPublic  PEMSource
	clientPrivate PEMSource

	group singleflight.Group
	mu    sync.RWMutex
	keys  *KeyPair
}

// NewKeyRing は新しいKeyRingを生成する。
func NewKeyRing(serverPublic, clientPrivate PEMSource) *KeyRing {
	return &KeyRing{
		serverPublic:  serverPublic,
		clientPrivate: clientPrivate,
	}
}

// NewStaticKeyRing は読み込み済みの鍵からKeyRingを生成する。
func NewStaticKeyRing(keys *KeyPair) *KeyRing {
	return &KeyRing{keys: keys}
}

// Keys は鍵ペアを返す。未読み込みの場合は取得元から読み込む。
func (k *KeyRing) Keys(ctx context.Context) (*KeyPair, error) {
	k.mu.RLock()
	keys := k.keys
	k.mu.RUnlock()
	if keys != nil {
		return keys, nil
	}

	// 読み込みは呼び出し元のキャンセルから切り離し、待機だけを各自のctxで打ち切る
	ch := k.group.DoChan("keys", func() (interface{}, error) {
		k.mu.RLock()
		cached := k.keys
		k.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		loadCtx := context.WithoutCancel(ctx)
		loaded, err := k.load(loadCtx)
		if err != nil {
			return nil, err
		}

		k.mu.Lock()
		k.keys = loaded
		k.mu.Unlock()
		slog.InfoContext(loadCtx, "key material loaded",
			"server_public_bits", loaded.ServerPublic.N.BitLen(),
			"client_private_bits", loaded.ClientPrivate.N.BitLen(),
		)
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeyPair), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", domain.ErrCanceled, ctx.Err())
	}
}

func (k *KeyRing) load(ctx context.Context) (*KeyPair, error) {
	if k.serverPublic == nil || k.clientPrivate == nil {
		return nil, fmt.Errorf("key sources are not configured")
	}

	pubPEM, err := k.serverPublic.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading server public key: %w", err)
	}
	pub, err := LoadPublicKey(string(pubPEM))
	if err != nil {
		return nil, fmt.Errorf("server public key: %w", err)
	}

	privPEM, err := k.clientPrivate.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading client private key: %w", err)
	}
	defer clear(privPEM)
	priv, err := LoadPrivateKey(string(privPEM))
	if err != nil {
		return nil, fmt.Errorf("client private key: %w", err)
	}

	return &KeyPair{ServerPublic: pub, ClientPrivate: priv}, nil
}
