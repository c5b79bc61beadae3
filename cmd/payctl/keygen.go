package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/codec"
	"payment-session-client/internal/infra"
)

// keygenCmd はサーバー用とクライアント用のRSA鍵ペアを生成するコマンド。
func keygenCmd() *cobra.Command {
	var (
		dir     string
		bits    int
		kmsWrap bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate server and client RSA key pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("creating %s: %w", dir, err)
			}

			var wrapper *infra.KMSClient
			if kmsWrap {
				var err error
				wrapper, err = infra.NewKMSClient(ctx, cfg.KMSKeyName)
				if err != nil {
					return err
				}
				defer wrapper.Close()
			}

			written := make([]string, 0, 4)
			for _, party := range []string{"server", "client"} {
				pair, err := asymmetric.GenerateKeyPair(bits)
				if err != nil {
					return err
				}

				private := pair.PrivateKey
				// クライアント秘密鍵はKMSでラップして保存できる
				if party == "client" && wrapper != nil {
					wrapped, err := wrapper.Encrypt(ctx, private)
					if err != nil {
						return err
					}
					private = []byte(codec.Encode(wrapped) + "\n")
				}

				privPath := filepath.Join(dir, party+"_private.pem")
				pubPath := filepath.Join(dir, party+"_public.pem")
				if err := os.WriteFile(privPath, private, 0o600); err != nil {
					return fmt.Errorf("writing %s: %w", privPath, err)
				}
				if err := os.WriteFile(pubPath, pair.PublicKey, 0o644); err != nil {
					return fmt.Errorf("writing %s: %w", pubPath, err)
				}
				written = append(written, privPath, pubPath)
			}

			return printResult(map[string]interface{}{
				"files":      written,
				"bits":       bits,
				"kmsWrapped": kmsWrap,
			}, fmt.Sprintf("Generated %d-bit key pairs in %s", bits, dir))
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "./keys", "Output directory")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size in bits (minimum 2048)")
	cmd.Flags().BoolVar(&kmsWrap, "kms-wrap", false, "Wrap the client private key with Cloud KMS (requires KMS_KEY_NAME)")
	return cmd
}
