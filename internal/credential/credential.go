// Package credential resolves account credential references such as
// "env:YAHOO_APP_PASSWORD", "keyring:gmail-personal" or "vault:aol" into
// app passwords and OAuth2 token sources.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// ErrNotFound is returned when a reference points at nothing
var ErrNotFound = errors.New("credential not found")

// Backend looks up a raw secret by key
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
}

// Resolver dispatches "scheme:key" references to registered backends
type Resolver struct {
	backends map[string]Backend
	oauth    *oauth2.Config
}

// NewResolver creates a resolver. oauthCfg may be nil, in which case Gmail
// tokens are used as-is and never refreshed.
func NewResolver(oauthCfg *oauth2.Config) *Resolver {
	return &Resolver{
		backends: make(map[string]Backend),
		oauth:    oauthCfg,
	}
}

// Register adds a backend for scheme
func (r *Resolver) Register(scheme string, b Backend) {
	r.backends[scheme] = b
}

// ParseRef splits a reference into scheme and key
func ParseRef(ref string) (scheme, key string, err error) {
	scheme, key, ok := strings.Cut(strings.TrimSpace(ref), ":")
	if !ok || scheme == "" || key == "" {
		return "", "", fmt.Errorf("malformed credential ref %q (want scheme:key)", ref)
	}
	return scheme, key, nil
}

func (r *Resolver) lookup(ctx context.Context, ref string) (string, error) {
	scheme, key, err := ParseRef(ref)
	if err != nil {
		return "", err
	}

	b, ok := r.backends[scheme]
	if !ok {
		return "", fmt.Errorf("no credential backend for scheme %q", scheme)
	}

	secret, err := b.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	if secret == "" {
		return "", fmt.Errorf("resolving %s: %w", ref, ErrNotFound)
	}
	return secret, nil
}

// Check verifies that ref resolves to a non-empty secret
func (r *Resolver) Check(ctx context.Context, ref string) error {
	_, err := r.lookup(ctx, ref)
	return err
}

// Password returns an app password for IMAP accounts
func (r *Resolver) Password(ctx context.Context, ref string) (string, error) {
	return r.lookup(ctx, ref)
}

// TokenSource returns an OAuth2 token source for Gmail accounts. The stored
// secret is either a JSON encoded oauth2.Token or a bare access token.
func (r *Resolver) TokenSource(ctx context.Context, ref string) (oauth2.TokenSource, error) {
	secret, err := r.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	tok, err := parseToken(secret)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", ref, err)
	}

	if r.oauth != nil && tok.RefreshToken != "" {
		// The source outlives the call that resolved it; refreshes must not
		// inherit its deadline.
		return r.oauth.TokenSource(context.WithoutCancel(ctx), tok), nil
	}
	return oauth2.StaticTokenSource(tok), nil
}

func parseToken(secret string) (*oauth2.Token, error) {
	secret = strings.TrimSpace(secret)
	if !strings.HasPrefix(secret, "{") {
		return &oauth2.Token{AccessToken: secret, TokenType: "Bearer"}, nil
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(secret), &tok); err != nil {
		return nil, fmt.Errorf("invalid token JSON: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token has neither access nor refresh token")
	}
	return &tok, nil
}
