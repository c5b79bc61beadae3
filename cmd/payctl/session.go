package main

import (
	"context"
	"fmt"
	"log/slog"

	"payment-session-client/internal/asymmetric"
	"payment-session-client/internal/infra"
	"payment-session-client/internal/repository"
	"payment-session-client/internal/transport"
	"payment-session-client/internal/usecase"
)

// clientApp は1回のコマンド実行で使うクライアント側の依存関係。
type clientApp struct {
	exchange     *usecase.ExchangeService
	transactions *usecase.TransactionService
	closers      []func() error
}

func (a *clientApp) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			slog.Error("failed to close resource", "error", err)
		}
	}
}

// newClientApp は設定からクライアント側の依存関係を組み立てる。
func newClientApp(ctx context.Context) (*clientApp, error) {
	app := &clientApp{}
	httpClient := newHTTPClient()

	serverPublic := infra.NewPEMSource(cfg.ServerPublicKey, httpClient)
	clientPrivate := infra.NewPEMSource(cfg.ClientPrivateKey, httpClient)
	if cfg.ClientPrivateKeyKMSWrapped {
		kmsClient, err := infra.NewKMSClient(ctx, cfg.KMSKeyName)
		if err != nil {
			return nil, fmt.Errorf("failed to init KMS client: %w", err)
		}
		app.closers = append(app.closers, kmsClient.Close)
		clientPrivate = infra.KMSWrappedSource{Inner: clientPrivate, Unwrapper: kmsClient}
	}

	ring := asymmetric.NewKeyRing(serverPublic, clientPrivate)
	store := repository.NewSessionKeyStore(repository.WithTTL(cfg.SessionTTL))
	peer := transport.NewPeerClientWithHTTP(cfg.PeerURL, httpClient)

	var exchangeOpts []usecase.ExchangeOption
	var transactionOpts []usecase.TransactionOption
	if cfg.DatabaseURL != "" {
		db, err := infra.NewDB(cfg.DatabaseURL, cfg.OtelEnabled)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			app.closers = append(app.closers, sqlDB.Close)
		}
		journal := repository.NewJournalRepository(db)
		exchangeOpts = append(exchangeOpts, usecase.WithExchangeJournal(journal))
		transactionOpts = append(transactionOpts, usecase.WithTransactionJournal(journal))
	}

	app.exchange = usecase.NewExchangeService(ring, peer, store, exchangeOpts...)
	app.transactions = usecase.NewTransactionService(store, peer, transactionOpts...)
	return app, nil
}
