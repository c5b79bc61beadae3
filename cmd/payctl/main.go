// Package main は決済セッションクライアントのCLIツールのエントリポイント。
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"payment-session-client/config"
	"payment-session-client/internal/domain"
	"payment-session-client/internal/infra"
)

const version = "1.0.0"

var (
	peerURL string
	output  string
	timeout time.Duration

	cfg  *config.Config
	tp   *sdktrace.TracerProvider
	span trace.Span
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "payctl",
		Short:         "Payment session client CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .envファイルを読み込む（存在しない場合は無視）
			_ = godotenv.Load()

			cfg = config.Load()
			if cmd.Flags().Changed("peer-url") {
				cfg.PeerURL = peerURL
			}
			if cmd.Flags().Changed("timeout") {
				cfg.RequestTimeout = timeout
			}
			if output != "text" && output != "json" {
				return fmt.Errorf("--output must be text or json")
			}

			// 標準出力は結果表示に使う
			infra.SetupLogger(cfg, os.Stderr)

			var err error
			tp, err = infra.InitTracer(cmd.Context(), cfg, "payctl", version)
			if err != nil {
				return fmt.Errorf("failed to init tracer: %w", err)
			}

			// サブコマンド全体を1スパンにまとめる
			ctx, s := infra.Tracer().Start(cmd.Context(), "payctl "+cmd.Name())
			span = s
			cmd.SetContext(ctx)
			return nil
		},
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&peerURL, "peer-url", "", "Peer base URL (or set PEER_URL)")
	rootCmd.PersistentFlags().StringVar(&output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout (or set REQUEST_TIMEOUT)")

	// サブコマンド登録
	rootCmd.AddCommand(exchangeCmd())
	rootCmd.AddCommand(payCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(journalCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.ExecuteContext(context.Background())
	shutdownTracing(err)
	if err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		os.Exit(exitCode(err))
	}
}

// shutdownTracing はスパンを閉じ、未送信のスパンを送り出す。
func shutdownTracing(err error) {
	if span != nil {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	if tp != nil {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}
}

// versionCmd はバージョン情報を表示する。
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("payctl version %s\n", version)
		},
	}
}

// newHTTPClient はトレース付きのHTTPクライアントを生成する。
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// printResult は --output に応じて結果を表示する。
func printResult(v interface{}, text string) error {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Println(text)
	return nil
}

// describeError は入力エラーとチャネルエラーを区別したメッセージを返す。
func describeError(err error) string {
	switch {
	case domain.IsInputError(err):
		return fmt.Sprintf("Error: invalid input: %v", err)
	case errors.Is(err, domain.ErrCanceled):
		return fmt.Sprintf("Error: request canceled or timed out: %v", err)
	case domain.IsChannelError(err):
		return fmt.Sprintf("Error: secure channel failed, run key exchange again: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

func exitCode(err error) int {
	switch {
	case domain.IsInputError(err):
		return 2
	case domain.IsChannelError(err):
		return 3
	default:
		return 1
	}
}
