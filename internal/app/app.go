package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/attlog/internal/adapters/events"
	"github.com/atvirokodosprendimai/attlog/internal/adapters/httpapi"
	sqliteadapter "github.com/atvirokodosprendimai/attlog/internal/adapters/sqlite"
	"github.com/atvirokodosprendimai/attlog/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/attlog/internal/core/domain"
	"github.com/atvirokodosprendimai/attlog/internal/core/ports"
	"github.com/atvirokodosprendimai/attlog/internal/core/usecase"
	"github.com/atvirokodosprendimai/attlog/migrations"
)

type Config struct {
	Addr                string
	DBPath              string
	OutOfOrderTolerance time.Duration
	FutureSkewTolerance time.Duration
	BootstrapAPIKey     string
	BootstrapKeyName    string
	WebhookURL          string
	WebhookSecret       string
	DispatchInterval    time.Duration
	DispatchBatchSize   int
}

type resourceCloser struct {
	closers []io.Closer
}

func (r resourceCloser) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func NewServer(ctx context.Context, cfg Config) (*http.Server, io.Closer, error) {
	db, err := gormsqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}

	writeSQLDB, err := db.WriteSQLDB()
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("resolve writer sql db: %w", err)
	}

	migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := migrations.Up(migrateCtx, writeSQLDB); err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	store := sqliteadapter.NewEventStore(db)
	outboxRepo := sqliteadapter.NewOutboxRepository(db)
	apiKeyRepo := sqliteadapter.NewAPIKeyRepository(db)

	ledger := usecase.NewLedgerService(store, usecase.LedgerConfig{
		OutOfOrderTolerance: cfg.OutOfOrderTolerance,
		FutureSkewTolerance: cfg.FutureSkewTolerance,
	})
	importer := usecase.NewImportService(ledger)
	authService := usecase.NewAuthService(apiKeyRepo)

	var publisher ports.EventPublisher = events.NewLogPublisher()
	if cfg.WebhookURL != "" {
		publisher = events.NewWebhookPublisher(cfg.WebhookURL, cfg.WebhookSecret, 0)
	}
	dispatcher := usecase.NewOutboxDispatcher(outboxRepo, publisher, cfg.DispatchInterval, cfg.DispatchBatchSize)
	dispatcher.Start(context.Background())

	if cfg.BootstrapAPIKey != "" {
		name := cfg.BootstrapKeyName
		if name == "" {
			name = "bootstrap"
		}

		bootstrapCtx, bootstrapCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := apiKeyRepo.Upsert(bootstrapCtx, domain.APIKey{
			TokenHash: usecase.HashToken(cfg.BootstrapAPIKey),
			Name:      name,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		})
		bootstrapCancel()
		if err != nil {
			_ = dispatcher.Close()
			_ = db.Close()
			return nil, nil, fmt.Errorf("bootstrap api key: %w", err)
		}
	}

	handler := httpapi.NewHandler(ledger, importer, authService)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return server, resourceCloser{closers: []io.Closer{dispatcher, db}}, nil
}
