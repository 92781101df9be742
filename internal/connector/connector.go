// Package connector adapts individual mail backends (the Gmail REST API and
// IMAP for Yahoo and AOL) to one capability interface.
//
// Every mutation a connector performs leaves messages recoverable: Gmail
// messages get the TRASH label, IMAP messages are copied to the trash
// mailbox and flagged \Deleted without being expunged.
package connector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/mixelka/maildash/pkg/models"
)

// Connector is the uniform interface over one account's mail backend
type Connector interface {
	// Account returns the account this connector serves.
	Account() models.Account

	// Connect establishes the session. It is a no-op when already connected.
	Connect(ctx context.Context) error

	// Connected reports whether a live session exists.
	Connected() bool

	// UnreadCount returns the number of unread INBOX messages.
	UnreadCount(ctx context.Context) (int, error)

	// ListRecent returns up to limit of the newest INBOX messages.
	ListRecent(ctx context.Context, limit int) ([]models.Message, error)

	// Search returns a lazy cursor over matching messages in backend order.
	Search(ctx context.Context, query string, limit int) (*Cursor, error)

	// Trash moves one message to a recoverable deleted state.
	Trash(ctx context.Context, id string) error

	// BatchTrash trashes ids in bulk, falling back to per-message calls
	// when the bulk mutation fails. It reports every id as either
	// succeeded or failed.
	BatchTrash(ctx context.Context, ids []string) models.DeletionResult

	// Restore undoes Trash for one message.
	Restore(ctx context.Context, id string) error

	// Close tears the session down.
	Close() error
}

// Credentials supplies secrets on demand. Refreshing expired tokens is the
// implementation's job.
type Credentials interface {
	TokenSource(ctx context.Context, ref string) (oauth2.TokenSource, error)
	Password(ctx context.Context, ref string) (string, error)
}

// Options configures connectors built by New
type Options struct {
	DialTimeout time.Duration
	Fallback    FallbackPolicy
	Logger      *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// New builds the connector variant for the account's provider
func New(acc models.Account, creds Credentials, opts Options) (Connector, error) {
	switch acc.Provider {
	case models.ProviderGmail:
		return NewGmailConnector(acc, creds, opts), nil
	case models.ProviderYahooIMAP, models.ProviderAOLIMAP:
		return NewImapConnector(acc, creds, opts), nil
	default:
		return nil, fmt.Errorf("no connector for provider %q", acc.Provider)
	}
}
