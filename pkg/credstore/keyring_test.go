package credstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestKeyringBackendRoundTrip exercises the real OS keyring. CI and
// headless environments frequently have no secret service running, so this
// mirrors go-keyring's own test suite: skip rather than fail when the
// backend is unavailable.
func TestKeyringBackendRoundTrip(t *testing.T) {
	if !Probe() {
		t.Skip("no usable OS keyring in this environment")
	}

	kb, err := NewKeyringBackend(t.TempDir())
	require.NoError(t, err)

	sec := NewSecretFromString("keyring-value")
	require.NoError(t, kb.SetSecret(context.Background(), "test-account", sec))
	defer kb.DeleteSecret(context.Background(), "test-account")

	got, err := kb.GetSecret(context.Background(), "test-account")
	require.NoError(t, err)
	assert.Equal(t, "keyring-value", got.String())

	accounts, err := kb.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Contains(t, accounts, "test-account")
}

func TestOAuthTokenKeyShape(t *testing.T) {
	assert.Equal(t, "oauth_tokens:gdrive", OAuthTokenKey("gdrive"))
}
