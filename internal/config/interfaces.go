package config

import "context"

// SecretProvider resolves secret references in bulk. SSMProvider backs deployed
// environments; EnvVarProvider backs local runs and tests.
type SecretProvider interface {
	// GetParametersBatch returns the plaintext value for each resolvable key.
	// Keys it cannot find are omitted from the result.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
