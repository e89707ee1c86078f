// Package credstore persists account secrets behind the OS keyring where
// available, falling back to an Argon2id-derived AES-256-GCM vault file.
// Both backends expose the same Store interface and additionally track the
// set of account keys they have written in a side file, since platform
// keyrings do not reliably support enumeration.
package credstore

import (
	"context"
)

// Store is the interface both backends implement.
type Store interface {
	// SetSecret stores secret under account, overwriting any existing value.
	SetSecret(ctx context.Context, account string, secret *Secret) error
	// GetSecret retrieves the secret stored under account.
	GetSecret(ctx context.Context, account string) (*Secret, error)
	// DeleteSecret removes account's entry. Idempotent.
	DeleteSecret(ctx context.Context, account string) error
	// ListAccounts enumerates every account key this store instance owns.
	ListAccounts(ctx context.Context) ([]string, error)
	// Backend reports which implementation is active ("keyring" or "vault").
	Backend() string
}

// OAuthTokenKey builds the account key used to persist OAuth tokens, per
// the ("oauth_tokens", provider_tag) convention.
func OAuthTokenKey(providerTag string) string {
	return "oauth_tokens:" + providerTag
}

// Probe attempts a write+read+delete of a sentinel entry against the OS
// keyring and reports whether it is usable. Callers use this to decide
// whether to construct a KeyringBackend or fall back to a VaultBackend.
func Probe() bool {
	const sentinelAccount = "aerocore-keyring-probe"
	const sentinelValue = "probe"

	kb := &KeyringBackend{service: keyringService}
	sec := NewSecretFromString(sentinelValue)
	defer sec.Destroy()

	if err := kb.SetSecret(context.Background(), sentinelAccount, sec); err != nil {
		return false
	}
	got, err := kb.GetSecret(context.Background(), sentinelAccount)
	ok := err == nil && got != nil && got.String() == sentinelValue
	if got != nil {
		got.Destroy()
	}
	_ = kb.DeleteSecret(context.Background(), sentinelAccount)
	return ok
}
