package usecase

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"strconv"
	"sync"
	"testing"
	"time"

	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/codec"
	"payment-session-client/internal/domain"
	"payment-session-client/internal/repository"
)

var (
	rsaOnce   sync.Once
	serverKey *rsa.PrivateKey
	clientKey *rsa.PrivateKey
)

// testRSAKeys はテスト全体で共有するサーバー鍵とクライアント鍵を返す。
func testRSAKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	rsaOnce.Do(func() {
		var err error
		if serverKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if clientKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return serverKey, clientKey
}

func clientKeyRing(t *testing.T) *asymmetric.KeyRing {
	t.Helper()
	server, client := testRSAKeys(t)
	return asymmetric.NewStaticKeyRing(&asymmetric.KeyPair{
		ServerPublic:  &server.PublicKey,
		ClientPrivate: client,
	})
}

var fixedNow = time.UnixMilli(1700000000000)

func fixedClock() time.Time { return fixedNow }

// newTestPeer は固定時刻で動くサンドボックスピアを生成する。
func newTestPeer(t *testing.T) *PeerService {
	t.Helper()
	server, client := testRSAKeys(t)
	peer := NewPeerService(
		&PeerKeys{ServerPrivate: server, ClientPublic: &client.PublicKey},
		repository.NewMerchantKeyStore(),
		repository.NewMemoryNonceStore(time.Minute),
		time.Minute,
	)
	peer.now = fixedClock
	return peer
}

// sealResponse はピアと同じ手順で応答封筒を作る。
func sealResponse(t *testing.T, resp domain.ExchangeResponse) *domain.ExchangeEnvelope {
	t.Helper()
	server, client := testRSAKeys(t)
	plain, err := resp.Canonical()
	if err != nil {
		t.Fatalf("Canonical failed: %v", err)
	}
	ct, err := asymmetric.Encrypt(&client.PublicKey, plain)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	sig, err := asymmetric.Sign(server, plain)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return &domain.ExchangeEnvelope{Ciphertext: codec.Encode(ct), Signature: codec.Encode(sig)}
}

// mockPeer はテスト用のピア。未設定の関数はループバック先のPeerServiceに委譲する。
type mockPeer struct {
	loopback   *PeerService
	exchangeFn func(ctx context.Context, env *domain.ExchangeEnvelope) (*domain.ExchangeEnvelope, error)
	submitErr  error

	mu          sync.Mutex
	exchanges   int
	submissions int
	bodies      [][]byte
}

func (m *mockPeer) RequestExchange(ctx context.Context, env *domain.ExchangeEnvelope) (*domain.ExchangeEnvelope, error) {
	m.mu.Lock()
	m.exchanges++
	m.mu.Unlock()
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, env)
	}
	return m.loopback.Exchange(ctx, env)
}

func (m *mockPeer) SubmitTransaction(ctx context.Context, signed *domain.SignedTransaction) (*domain.TransactionReceipt, error) {
	m.mu.Lock()
	m.submissions++
	m.bodies = append(m.bodies, bytes.Clone(signed.Body))
	m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	return m.loopback.AcceptTransaction(ctx, signed.Body, signed.Signature, strconv.FormatInt(signed.Timestamp, 10))
}

// mockJournal はテスト用のジャーナル。
type mockJournal struct {
	mu      sync.Mutex
	entries []*domain.JournalEntry
}

func (m *mockJournal) Record(ctx context.Context, entry *domain.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *entry
	m.entries = append(m.entries, &copied)
	return nil
}

func (m *mockJournal) last(t *testing.T) *domain.JournalEntry {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) == 0 {
		t.Fatal("expected a journal entry")
	}
	return m.entries[len(m.entries)-1]
}

// newSessionKeys はテスト用のセッション鍵を生成する。
func newSessionKeys(t *testing.T, merchantID int64) *domain.SessionKeys {
	t.Helper()
	aesKey, err := codec.RandomBytes(domain.AESKeySize)
	if err != nil {
		t.Fatal(err)
	}
	hmacKey, err := codec.RandomBytes(domain.MinHMACKeySize)
	if err != nil {
		t.Fatal(err)
	}
	return &domain.SessionKeys{MerchantID: merchantID, AESKey: aesKey, HMACKey: hmacKey}
}
