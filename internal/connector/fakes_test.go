package connector

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

type staticCreds struct {
	password string
	token    string
	err      error
}

func (s staticCreds) TokenSource(_ context.Context, _ string) (oauth2.TokenSource, error) {
	if s.err != nil {
		return nil, s.err
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.token}), nil
}

func (s staticCreds) Password(_ context.Context, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.password, nil
}

var errMissingCredential = errors.New("credential not found")
