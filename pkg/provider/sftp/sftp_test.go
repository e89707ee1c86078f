package sftp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

func TestAddrDefaultsToPort22(t *testing.T) {
	assert.Equal(t, "example.com:22", addr("example.com", 0))
}

func TestAddrHonorsExplicitPort(t *testing.T) {
	assert.Equal(t, "example.com:2222", addr("example.com", 2222))
}

func TestNewBuildsUnconnectedProvider(t *testing.T) {
	p := New(provider.SFTPConfig{Host: "example.com", Username: "bob"})
	assert.False(t, p.IsConnected())
	assert.Equal(t, "/", p.Pwd())
}

func TestAccountEmailNotSupported(t *testing.T) {
	p := New(provider.SFTPConfig{})
	_, err := p.AccountEmail(context.Background())
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotSupported))
}

func TestKeepAliveFailsWhenNotConnected(t *testing.T) {
	p := New(provider.SFTPConfig{})
	err := p.KeepAlive(context.Background())
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotConnected))
}

func TestListFailsWhenNotConnected(t *testing.T) {
	p := New(provider.SFTPConfig{})
	_, err := p.List(context.Background(), "/anything")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotConnected))
}

func TestListRejectsInvalidPath(t *testing.T) {
	p := New(provider.SFTPConfig{})
	_, err := p.List(context.Background(), "bad\x00path")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.InvalidPath))
}

func TestRenameRejectsInvalidPaths(t *testing.T) {
	p := New(provider.SFTPConfig{})
	err := p.Rename(context.Background(), "bad\x00path", "/ok")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.InvalidPath))
}

func testPublicKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	sshPub, err := ssh.NewPublicKey(pub)
	require.NoError(t, err)
	return sshPub
}

func TestHostKeyPinAcceptsOnlyMatchingFingerprint(t *testing.T) {
	pub := testPublicKey(t)
	fp := ssh.FingerprintSHA256(pub)

	p := New(provider.SFTPConfig{HostKeyPin: fp})
	cb, err := p.hostKeyCallback()
	require.NoError(t, err)
	assert.NoError(t, cb("host:22", dummyAddr{}, pub))

	p2 := New(provider.SFTPConfig{HostKeyPin: "SHA256:not-the-right-one"})
	cb2, err := p2.hostKeyCallback()
	require.NoError(t, err)
	assert.Error(t, cb2("host:22", dummyAddr{}, pub))
}

func TestHostKeyTOFURecordsFirstSeenHost(t *testing.T) {
	dir := t.TempDir()
	known := filepath.Join(dir, "known_hosts")
	pub := testPublicKey(t)

	p := New(provider.SFTPConfig{KnownHostsPath: known})
	cb, err := p.hostKeyCallback()
	require.NoError(t, err)
	require.NoError(t, cb("127.0.0.1:22", dummyAddr{}, pub))

	data, err := os.ReadFile(known)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// Second callback instance should now recognize the recorded host.
	p2 := New(provider.SFTPConfig{KnownHostsPath: known})
	cb2, err := p2.hostKeyCallback()
	require.NoError(t, err)
	assert.NoError(t, cb2("127.0.0.1:22", dummyAddr{}, pub))
}

type dummyAddr struct{}

func (dummyAddr) Network() string { return "tcp" }
func (dummyAddr) String() string  { return "127.0.0.1:22" }
