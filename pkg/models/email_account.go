package models

import "fmt"

// Provider identifies the mail backend behind an account
type Provider string

const (
	ProviderGmail     Provider = "gmail"
	ProviderYahooIMAP Provider = "yahoo_imap"
	ProviderAOLIMAP   Provider = "aol_imap"
)

// ParseProvider validates a provider name from configuration
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderGmail, ProviderYahooIMAP, ProviderAOLIMAP:
		return p, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// IsIMAP reports whether the provider is served over IMAP
func (p Provider) IsIMAP() bool {
	return p == ProviderYahooIMAP || p == ProviderAOLIMAP
}

// Account represents a configured mail account
type Account struct {
	ID             string   `mapstructure:"id" json:"id"`
	Name           string   `mapstructure:"name" json:"name"`
	Email          string   `mapstructure:"email" json:"email"`
	Provider       Provider `mapstructure:"provider" json:"provider"`
	CredentialsRef string   `mapstructure:"credentials_ref" json:"-"`
	Enabled        bool     `mapstructure:"enabled" json:"enabled"`
	IMAPServer     string   `mapstructure:"imap_server" json:"imap_server,omitempty"`     // host:port override
	TrashMailbox   string   `mapstructure:"trash_mailbox" json:"trash_mailbox,omitempty"` // IMAP only, default "Trash"
	DisabledReason string   `mapstructure:"-" json:"disabled_reason,omitempty"`
}

// DisplayName returns the name, falling back to the email address
func (a *Account) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}
