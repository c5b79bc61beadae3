package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"payment-session-client/internal/infra"
	"payment-session-client/internal/repository"
)

// journalCmd は加盟店ごとの実行記録を表示するコマンド。
func journalCmd() *cobra.Command {
	var (
		merchantID int64
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded exchanges and transactions for a merchant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL environment variable is required")
			}
			db, err := infra.NewDB(cfg.DatabaseURL, cfg.OtelEnabled)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}

			entries, err := repository.NewJournalRepository(db).FindByMerchant(cmd.Context(), merchantID, limit)
			if err != nil {
				return fmt.Errorf("failed to read journal: %w", err)
			}

			if output == "json" {
				return printResult(entries, "")
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "CREATED AT\tKIND\tRESULT\tAMOUNT\tCURRENCY\tERROR")
			fmt.Fprintln(w, "----------\t----\t------\t------\t--------\t-----")
			for _, e := range entries {
				amount := e.Amount
				if amount == "" {
					amount = "-"
				}
				currency := e.Currency
				if currency == "" {
					currency = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Local().Format(time.DateTime), e.Kind, e.Result, amount, currency, e.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&merchantID, "merchant", 0, "Merchant ID (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	cmd.MarkFlagRequired("merchant")
	return cmd
}
