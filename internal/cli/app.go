package cli

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	"google.golang.org/api/gmail/v1"

	"github.com/mixelka/maildash/internal/account"
	"github.com/mixelka/maildash/internal/config"
	"github.com/mixelka/maildash/internal/connector"
	"github.com/mixelka/maildash/internal/credential"
	"github.com/mixelka/maildash/internal/database"
	"github.com/mixelka/maildash/internal/deletion"
	"github.com/mixelka/maildash/internal/manager"
	"github.com/mixelka/maildash/internal/notify"
	"github.com/mixelka/maildash/pkg/models"
)

// App holds the wired components shared by commands
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	DB          *database.DB
	Registry    *account.Registry
	Manager     *manager.Manager
	Coordinator *deletion.Coordinator
	Notifier    *notify.Notifier
}

// openDB opens and migrates the database
func openDB(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Debug("database ready", "path", cfg.DatabasePath)
	return db, nil
}

// Open wires database, credentials, accounts, manager and coordinator. It
// does not connect any account.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	resolver, err := newResolver(cfg, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry, err := account.Load(ctx, cfg.AccountsFile, resolver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	opts := connector.Options{
		DialTimeout: cfg.IMAPDialTimeout,
		Fallback: connector.FallbackPolicy{
			Delay:     cfg.TrashFallbackDelay,
			Threshold: cfg.TrashFallbackThreshold,
		},
		Logger: logger,
	}
	mgr := manager.New(registry, func(acc models.Account) (connector.Connector, error) {
		return connector.New(acc, resolver, opts)
	}, manager.Options{
		OperationTimeout: cfg.OperationTimeout,
		Logger:           logger,
	})

	app := &App{
		Config:      cfg,
		Logger:      logger,
		DB:          db,
		Registry:    registry,
		Manager:     mgr,
		Coordinator: deletion.NewCoordinator(mgr, registry, db, logger),
	}

	if cfg.TelegramEnabled() {
		n, err := notify.New(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("telegram notifications disabled", "error", err)
		} else {
			app.Notifier = n
			app.Coordinator.OnComplete(n.BatchCompleted)
			logger.Info("telegram notifications enabled", "chat_id", cfg.TelegramChatID)
		}
	}

	return app, nil
}

// Connect initializes every enabled account
func (a *App) Connect(ctx context.Context) {
	a.Manager.InitializeAllAccounts(ctx)
}

// Close stops connectors and closes the database
func (a *App) Close() {
	a.Manager.StopAll()
	if err := a.DB.Close(); err != nil {
		a.Logger.Warn("failed to close database", "error", err)
	}
}

func newResolver(cfg *config.Config, db *database.DB, logger *slog.Logger) (*credential.Resolver, error) {
	var oauthCfg *oauth2.Config
	if cfg.GoogleOAuthEnabled() {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			Endpoint:     endpoints.Google,
			Scopes:       []string{gmail.GmailModifyScope},
		}
	}

	resolver := credential.NewResolver(oauthCfg)
	resolver.Register("env", credential.EnvBackend{})

	ring, err := credential.OpenKeyring(cfg.KeyringService)
	if err != nil {
		logger.Warn("keyring credentials unavailable", "error", err)
	} else {
		resolver.Register("keyring", ring)
	}

	if cfg.VaultEnabled() {
		vault, err := credential.NewVaultBackend(db, cfg.VaultKey)
		if err != nil {
			return nil, fmt.Errorf("failed to open vault: %w", err)
		}
		resolver.Register("vault", vault)
	}

	return resolver, nil
}
