package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mixelka/maildash/internal/database"
)

type memStore map[string]string

func (m memStore) GetSecret(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", database.ErrNotFound
	}
	return v, nil
}

func (m memStore) PutSecret(_ context.Context, key, secret string) error {
	m[key] = secret
	return nil
}

func TestParseRef(t *testing.T) {
	scheme, key, err := ParseRef("env:YAHOO_APP_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "env", scheme)
	assert.Equal(t, "YAHOO_APP_PASSWORD", key)

	for _, bad := range []string{"", "env", "env:", ":key"} {
		_, _, err := ParseRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestResolverEnvPassword(t *testing.T) {
	t.Setenv("MAILDASH_TEST_PW", "app-password")

	r := NewResolver(nil)
	r.Register("env", EnvBackend{})
	ctx := context.Background()

	pw, err := r.Password(ctx, "env:MAILDASH_TEST_PW")
	require.NoError(t, err)
	assert.Equal(t, "app-password", pw)

	err = r.Check(ctx, "env:MAILDASH_TEST_MISSING")
	assert.ErrorIs(t, err, ErrNotFound)

	err = r.Check(ctx, "keyring:anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credential backend")
}

func TestResolverEmptySecretIsMissing(t *testing.T) {
	t.Setenv("MAILDASH_TEST_EMPTY", "")

	r := NewResolver(nil)
	r.Register("env", EnvBackend{})

	assert.ErrorIs(t, r.Check(context.Background(), "env:MAILDASH_TEST_EMPTY"), ErrNotFound)
}

func TestResolverKeyringTokenSource(t *testing.T) {
	ring := keyring.NewArrayKeyring([]keyring.Item{
		{Key: "gmail-json", Data: []byte(`{"access_token":"abc","token_type":"Bearer"}`)},
		{Key: "gmail-bare", Data: []byte("bare-token")},
		{Key: "gmail-bad", Data: []byte(`{"scope":"x"}`)},
	})

	r := NewResolver(nil)
	r.Register("keyring", NewKeyringBackend(ring))
	ctx := context.Background()

	ts, err := r.TokenSource(ctx, "keyring:gmail-json")
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	ts, err = r.TokenSource(ctx, "keyring:gmail-bare")
	require.NoError(t, err)
	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "bare-token", tok.AccessToken)

	_, err = r.TokenSource(ctx, "keyring:gmail-bad")
	assert.Error(t, err)

	_, err = r.TokenSource(ctx, "keyring:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTokenSourceRefreshesAfterResolveContextEnds(t *testing.T) {
	refreshes := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	ring := keyring.NewArrayKeyring([]keyring.Item{
		{Key: "gmail", Data: []byte(`{"access_token":"stale","refresh_token":"r1","token_type":"Bearer","expiry":"2020-01-01T00:00:00Z"}`)},
	})
	r := NewResolver(&oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams},
	})
	r.Register("keyring", NewKeyringBackend(ring))

	ctx, cancel := context.WithCancel(context.Background())
	ts, err := r.TokenSource(ctx, "keyring:gmail")
	require.NoError(t, err)
	cancel()

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, 1, refreshes)

	tok, err = ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
	assert.Equal(t, 1, refreshes, "valid token is reused")
}

func TestKeyringBackendSetDelete(t *testing.T) {
	kb := NewKeyringBackend(keyring.NewArrayKeyring(nil))
	ctx := context.Background()

	require.NoError(t, kb.Set("aol", "pw"))
	got, err := kb.Get(ctx, "aol")
	require.NoError(t, err)
	assert.Equal(t, "pw", got)

	require.NoError(t, kb.Delete("aol"))
	_, err = kb.Get(ctx, "aol")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVaultRoundTrip(t *testing.T) {
	store := memStore{}
	vault, err := NewVaultBackend(store, strings.Repeat("k", 32))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, vault.Set(ctx, "aol", "s3cret"))
	assert.NotEqual(t, "s3cret", store["aol"], "stored value must be encrypted")

	got, err := vault.Get(ctx, "aol")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	_, err = vault.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	other, err := NewVaultBackend(store, strings.Repeat("x", 32))
	require.NoError(t, err)
	_, err = other.Get(ctx, "aol")
	assert.Error(t, err, "wrong key must not decrypt")
}

func TestVaultKeyLength(t *testing.T) {
	_, err := NewVaultBackend(memStore{}, "short")
	assert.Error(t, err)
}
