package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"payment-session-client/internal/domain"
	"payment-session-client/internal/usecase"
)

// exchangeCmd は鍵交換コマンド。
func exchangeCmd() *cobra.Command {
	var merchantID int64
	cmd := &cobra.Command{
		Use:   "exchange",
		Short: "Run a key exchange for a merchant",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			app, err := newClientApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.exchange.Run(ctx, merchantID)
			if err != nil {
				return err
			}

			return printResult(map[string]interface{}{
				"merchantId": result.MerchantID,
				"nonce":      result.Nonce,
				"timestamp":  result.Timestamp,
				"state":      result.State,
			}, fmt.Sprintf("Key exchange completed for merchant %d (nonce: %s)", result.MerchantID, result.Nonce))
		},
	}
	cmd.Flags().Int64Var(&merchantID, "merchant", 0, "Merchant ID (required)")
	cmd.MarkFlagRequired("merchant")
	return cmd
}

// payCmd は鍵交換を行ってから取引を送信するコマンド。
func payCmd() *cobra.Command {
	var (
		merchantID int64
		amount     string
		currency   string
		pan        string
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Exchange session keys and submit a transaction",
		Long:  "Exchange session keys and submit a transaction. Pass --pan - to read the card number from stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return &domain.ValidationError{Field: "amount", Reason: "must be a decimal number"}
			}
			if pan == "-" {
				line, err := bufio.NewReader(os.Stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading pan from stdin: %w", err)
				}
				pan = strings.TrimSpace(line)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			app, err := newClientApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			in := &usecase.TransactionInput{
				MerchantID: merchantID,
				Amount:     amt,
				Currency:   strings.ToUpper(currency),
				Pan:        pan,
			}
			// 入力が不正なら鍵交換も行わない
			if err := app.transactions.Validate(in); err != nil {
				return err
			}

			if _, err := app.exchange.Run(ctx, merchantID); err != nil {
				return err
			}

			receipt, signed, err := app.transactions.Submit(ctx, in)
			if err != nil {
				return err
			}

			return printResult(map[string]interface{}{
				"receipt":   receipt,
				"signature": signed.Signature,
				"timestamp": signed.Timestamp,
			}, fmt.Sprintf("Transaction %s %s for merchant %d (card ending %s)",
				receipt.TransactionID, receipt.Status, receipt.MerchantID, receipt.PanLast4))
		},
	}
	cmd.Flags().Int64Var(&merchantID, "merchant", 0, "Merchant ID (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount as a decimal, e.g. 12.50 (required)")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	cmd.Flags().StringVar(&pan, "pan", "", "16-digit card number, or - for stdin (required)")
	cmd.MarkFlagRequired("merchant")
	cmd.MarkFlagRequired("amount")
	cmd.MarkFlagRequired("pan")
	return cmd
}
