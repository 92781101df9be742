package credential

import (
	"context"
	"os"
)

// EnvBackend reads secrets from environment variables
type EnvBackend struct{}

// Get returns the value of the environment variable key
func (EnvBackend) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}
