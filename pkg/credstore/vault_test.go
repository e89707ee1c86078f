package credstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

func TestVaultSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	pw := NewSecretFromString("correct horse battery staple")
	defer pw.Destroy()

	v, err := OpenVault(dir, pw)
	require.NoError(t, err)

	sec := NewSecretFromString("s3cr3t-token")
	require.NoError(t, v.SetSecret(context.Background(), "ftp:example.com", sec))

	got, err := v.GetSecret(context.Background(), "ftp:example.com")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-token", got.String())

	require.NoError(t, v.DeleteSecret(context.Background(), "ftp:example.com"))
	_, err = v.GetSecret(context.Background(), "ftp:example.com")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotFound))
}

func TestVaultPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	pw := NewSecretFromString("master-pw")

	v1, err := OpenVault(dir, pw)
	require.NoError(t, err)
	require.NoError(t, v1.SetSecret(context.Background(), "acct-1", NewSecretFromString("value-1")))

	v2, err := OpenVault(dir, pw)
	require.NoError(t, err)
	got, err := v2.GetSecret(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "value-1", got.String())
}

func TestVaultWrongPasswordFailsIndistinguishably(t *testing.T) {
	dir := t.TempDir()
	right := NewSecretFromString("right-password")
	wrong := NewSecretFromString("wrong-password")

	v1, err := OpenVault(dir, right)
	require.NoError(t, err)
	require.NoError(t, v1.SetSecret(context.Background(), "acct", NewSecretFromString("x")))

	_, err = OpenVault(dir, wrong)
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.AuthenticationFailed))
}

func TestVaultListAccounts(t *testing.T) {
	dir := t.TempDir()
	pw := NewSecretFromString("pw")
	v, err := OpenVault(dir, pw)
	require.NoError(t, err)

	require.NoError(t, v.SetSecret(context.Background(), "a", NewSecretFromString("1")))
	require.NoError(t, v.SetSecret(context.Background(), "b", NewSecretFromString("2")))

	accounts, err := v.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, accounts)
}

func TestVaultConfigDirHardened(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "config")
	pw := NewSecretFromString("pw")
	_, err := OpenVault(dir, pw)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestSecretDestroyZeroizes(t *testing.T) {
	s := NewSecretFromString("sensitive")
	s.Destroy()
	assert.Nil(t, s.Expose())
	s.Destroy() // idempotent
}
