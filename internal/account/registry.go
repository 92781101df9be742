// Package account loads and validates the configured mail accounts.
package account

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/pkg/models"
)

// CredentialChecker verifies that a credentials reference resolves
type CredentialChecker interface {
	Check(ctx context.Context, ref string) error
}

// entry mirrors one item of the accounts file. Enabled is a pointer so an
// absent key can default to true.
type entry struct {
	ID             string `mapstructure:"id"`
	Name           string `mapstructure:"name"`
	Email          string `mapstructure:"email"`
	Provider       string `mapstructure:"provider"`
	CredentialsRef string `mapstructure:"credentials_ref"`
	Enabled        *bool  `mapstructure:"enabled"`
	IMAPServer     string `mapstructure:"imap_server"`
	TrashMailbox   string `mapstructure:"trash_mailbox"`
}

type file struct {
	Accounts []entry `mapstructure:"accounts"`
}

// Registry holds the ordered, validated account list
type Registry struct {
	accounts []models.Account
	byID     map[string]int
}

// Load reads the YAML accounts file at path and validates every account
func Load(ctx context.Context, path string, creds CredentialChecker, logger *slog.Logger) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return nil, fmt.Errorf("accounts file %s not found: %w", path, err)
		}
		return nil, fmt.Errorf("reading accounts file %s: %w", path, err)
	}

	var f file
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parsing accounts file %s: %w", path, err)
	}

	accounts := make([]models.Account, 0, len(f.Accounts))
	for i, e := range f.Accounts {
		provider, err := models.ParseProvider(strings.ToLower(strings.TrimSpace(e.Provider)))
		if err != nil {
			return nil, mailerr.Validation(fmt.Sprintf("accounts[%d].provider", i), "%v", err)
		}

		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}

		accounts = append(accounts, models.Account{
			ID:             strings.TrimSpace(e.ID),
			Name:           e.Name,
			Email:          strings.TrimSpace(e.Email),
			Provider:       provider,
			CredentialsRef: strings.TrimSpace(e.CredentialsRef),
			Enabled:        enabled,
			IMAPServer:     e.IMAPServer,
			TrashMailbox:   e.TrashMailbox,
		})
	}

	return New(ctx, accounts, creds, logger)
}

// New builds a registry from already decoded accounts. Structural problems
// (missing or duplicate ids, unknown providers) are fatal; an account that
// cannot be used (no credentials, no login address) is disabled instead.
func New(ctx context.Context, accounts []models.Account, creds CredentialChecker, logger *slog.Logger) (*Registry, error) {
	logger = logger.With("component", "account_registry")

	r := &Registry{
		accounts: make([]models.Account, 0, len(accounts)),
		byID:     make(map[string]int, len(accounts)),
	}

	for i, acc := range accounts {
		if acc.ID == "" {
			return nil, mailerr.Validation(fmt.Sprintf("accounts[%d].id", i), "must not be empty")
		}
		if _, dup := r.byID[acc.ID]; dup {
			return nil, mailerr.Validation(fmt.Sprintf("accounts[%d].id", i), "duplicate account id %q", acc.ID)
		}
		if _, err := models.ParseProvider(string(acc.Provider)); err != nil {
			return nil, mailerr.Validation(fmt.Sprintf("accounts[%d].provider", i), "%v", err)
		}

		if acc.Enabled {
			if reason := unusableReason(ctx, acc, creds); reason != "" {
				acc.Enabled = false
				acc.DisabledReason = reason
				logger.Warn("account disabled", "account_id", acc.ID, "reason", reason)
			}
		} else if acc.DisabledReason == "" {
			acc.DisabledReason = "disabled in configuration"
		}

		r.byID[acc.ID] = len(r.accounts)
		r.accounts = append(r.accounts, acc)
	}

	logger.Info("accounts loaded", "count", len(r.accounts), "enabled", len(r.Enabled()))
	return r, nil
}

func unusableReason(ctx context.Context, acc models.Account, creds CredentialChecker) string {
	if acc.CredentialsRef == "" {
		return "no credentials_ref configured"
	}
	if acc.Provider.IsIMAP() && acc.Email == "" {
		return "IMAP account needs an email address to log in"
	}
	if creds == nil {
		return "no credential resolver available"
	}
	if err := creds.Check(ctx, acc.CredentialsRef); err != nil {
		return "credentials unresolvable: " + err.Error()
	}
	return ""
}

// GetAllAccounts returns every configured account in configuration order
func (r *Registry) GetAllAccounts() []models.Account {
	out := make([]models.Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// Enabled returns the enabled accounts in configuration order
func (r *Registry) Enabled() []models.Account {
	var out []models.Account
	for _, acc := range r.accounts {
		if acc.Enabled {
			out = append(out, acc)
		}
	}
	return out
}

// Get returns the account with the given id
func (r *Registry) Get(id string) (models.Account, bool) {
	i, ok := r.byID[id]
	if !ok {
		return models.Account{}, false
	}
	return r.accounts[i], true
}

// Len returns the number of configured accounts
func (r *Registry) Len() int {
	return len(r.accounts)
}
