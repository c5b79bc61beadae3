package infra

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/codec"
)

// maxPEMSize はHTTPで取得するPEMの上限サイズ。
const maxPEMSize = 64 << 10

// FileSource はファイルからPEMを読み込む。
type FileSource struct {
	Path string
}

// Load はファイルの内容を返す。
func (s FileSource) Load(ctx context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Path, err)
	}
	return b, nil
}

// HTTPSource はHTTP(S)でPEMを取得する。
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// Load はURLからPEMを取得する。呼び出し元のコンテキストでキャンセルされる。
func (s HTTPSource) Load(ctx context.Context) ([]byte, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", s.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPEMSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.URL, err)
	}
	if len(body) > maxPEMSize {
		return nil, fmt.Errorf("fetching %s: key exceeds %d bytes", s.URL, maxPEMSize)
	}
	return body, nil
}

// Unwrapper はラップされた鍵を復号する。
type Unwrapper interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// KMSWrappedSource はCloud KMSでラップされた秘密鍵PEMを読み込んで復号する。
// ファイルの中身は生の暗号文またはそのBase64表現。
type KMSWrappedSource struct {
	Inner     asymmetric.PEMSource
	Unwrapper Unwrapper
}

// Load は暗号文を読み込みKMSで復号する。
func (s KMSWrappedSource) Load(ctx context.Context) ([]byte, error) {
	wrapped, err := s.Inner.Load(ctx)
	if err != nil {
		return nil, err
	}
	if decoded, err := codec.Decode(string(bytes.TrimSpace(wrapped))); err == nil {
		wrapped = decoded
	}
	return s.Unwrapper.Decrypt(ctx, wrapped)
}

// NewPEMSource は場所の形式に応じて取得元を選ぶ。http(s)://ならHTTP、それ以外はファイル。
func NewPEMSource(location string, client *http.Client) asymmetric.PEMSource {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return HTTPSource{URL: location, Client: client}
	}
	return FileSource{Path: location}
}
