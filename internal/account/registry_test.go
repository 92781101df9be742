package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/maildash/internal/mailerr"
	"github.com/mixelka/maildash/pkg/models"
)

type fakeChecker map[string]bool

func (f fakeChecker) Check(_ context.Context, ref string) error {
	if f[ref] {
		return nil
	}
	return errors.New("credential not found")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadKeepsOrderAndDisablesMissingCredentials(t *testing.T) {
	path := writeFile(t, `
accounts:
  - id: personal
    name: Personal
    email: me@gmail.com
    provider: gmail
    credentials_ref: keyring:gmail-personal
  - id: yahoo
    email: me@yahoo.com
    provider: yahoo_imap
    credentials_ref: env:YAHOO_PW
  - id: aol
    email: me@aol.com
    provider: AOL_IMAP
    credentials_ref: env:AOL_PW
    trash_mailbox: Deleted
  - id: old
    email: old@aol.com
    provider: aol_imap
    credentials_ref: env:AOL_PW
    enabled: false
`)
	creds := fakeChecker{"keyring:gmail-personal": true, "env:AOL_PW": true}

	reg, err := Load(context.Background(), path, creds, discard())
	require.NoError(t, err)

	all := reg.GetAllAccounts()
	require.Len(t, all, 4)
	assert.Equal(t, []string{"personal", "yahoo", "aol", "old"},
		[]string{all[0].ID, all[1].ID, all[2].ID, all[3].ID})

	assert.True(t, all[0].Enabled)
	assert.False(t, all[1].Enabled, "unresolvable credentials disable the account")
	assert.Contains(t, all[1].DisabledReason, "credentials unresolvable")
	assert.True(t, all[2].Enabled)
	assert.Equal(t, models.ProviderAOLIMAP, all[2].Provider)
	assert.Equal(t, "Deleted", all[2].TrashMailbox)
	assert.False(t, all[3].Enabled)
	assert.Equal(t, "disabled in configuration", all[3].DisabledReason)

	enabled := reg.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "personal", enabled[0].ID)

	acc, ok := reg.Get("aol")
	require.True(t, ok)
	assert.Equal(t, "me@aol.com", acc.Email)
	_, ok = reg.Get("nope")
	assert.False(t, ok)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeFile(t, `
accounts:
  - id: x
    provider: hotmail
    credentials_ref: env:X
`)
	_, err := Load(context.Background(), path, fakeChecker{}, discard())
	require.Error(t, err)
	assert.True(t, mailerr.IsValidation(err))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "none.yaml"), fakeChecker{}, discard())
	assert.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, []models.Account{{Provider: models.ProviderGmail}}, nil, discard())
	assert.True(t, mailerr.IsValidation(err))

	dup := []models.Account{
		{ID: "a", Provider: models.ProviderGmail},
		{ID: "a", Provider: models.ProviderGmail},
	}
	_, err = New(ctx, dup, nil, discard())
	assert.True(t, mailerr.IsValidation(err))
}

func TestNewDisablesUnusableAccounts(t *testing.T) {
	accounts := []models.Account{
		{ID: "no-ref", Provider: models.ProviderGmail, Enabled: true},
		{ID: "no-email", Provider: models.ProviderYahooIMAP, CredentialsRef: "env:Y", Enabled: true},
		{ID: "ok", Provider: models.ProviderYahooIMAP, Email: "a@yahoo.com", CredentialsRef: "env:Y", Enabled: true},
	}

	reg, err := New(context.Background(), accounts, fakeChecker{"env:Y": true}, discard())
	require.NoError(t, err)

	all := reg.GetAllAccounts()
	assert.False(t, all[0].Enabled)
	assert.Equal(t, "no credentials_ref configured", all[0].DisabledReason)
	assert.False(t, all[1].Enabled)
	assert.True(t, all[2].Enabled)
	assert.Equal(t, 3, reg.Len())
}
