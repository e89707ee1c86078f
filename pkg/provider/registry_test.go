package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

type stubProvider struct{ connected bool }

func (s *stubProvider) Connect(ctx context.Context) error    { s.connected = true; return nil }
func (s *stubProvider) Disconnect(ctx context.Context) error { s.connected = false; return nil }
func (s *stubProvider) IsConnected() bool                    { return s.connected }
func (s *stubProvider) KeepAlive(ctx context.Context) error  { return nil }
func (s *stubProvider) ServerInfo(ctx context.Context) (string, error)   { return "stub", nil }
func (s *stubProvider) AccountEmail(ctx context.Context) (string, error) { return "", nil }
func (s *stubProvider) List(ctx context.Context, path string) ([]RemoteEntry, error) {
	return nil, nil
}
func (s *stubProvider) Pwd() string                                  { return "/" }
func (s *stubProvider) Cd(ctx context.Context, path string) error    { return nil }
func (s *stubProvider) CdUp(ctx context.Context) error               { return nil }
func (s *stubProvider) Stat(ctx context.Context, path string) (RemoteEntry, error) {
	return RemoteEntry{}, nil
}
func (s *stubProvider) Size(ctx context.Context, path string) (int64, error) { return 0, nil }
func (s *stubProvider) Exists(ctx context.Context, path string) (bool, error) {
	return false, nil
}
func (s *stubProvider) Download(ctx context.Context, remote, local string, progress ProgressFunc) error {
	return nil
}
func (s *stubProvider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	return nil, nil
}
func (s *stubProvider) Upload(ctx context.Context, local, remote string, progress ProgressFunc) error {
	return nil
}
func (s *stubProvider) Mkdir(ctx context.Context, path string) error          { return nil }
func (s *stubProvider) Delete(ctx context.Context, path string) error        { return nil }
func (s *stubProvider) Rmdir(ctx context.Context, path string) error         { return nil }
func (s *stubProvider) RmdirRecursive(ctx context.Context, path string) error { return nil }
func (s *stubProvider) Rename(ctx context.Context, from, to string) error    { return nil }

func TestRegistryBuildsRegisteredKind(t *testing.T) {
	r := NewRegistry()
	r.Register("ftp", func(cfg ProviderConfig) (StorageProvider, error) {
		return &stubProvider{}, nil
	})

	p, err := r.New(ProviderConfig{FTP: &FTPConfig{Host: "example.com"}})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestRegistryRejectsUnregisteredKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(ProviderConfig{S3: &S3Config{Bucket: "x"}})
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotSupported))
}

func TestRegistryRejectsAmbiguousConfig(t *testing.T) {
	r := NewRegistry()
	_, err := r.New(ProviderConfig{})
	require.Error(t, err)

	_, err = r.New(ProviderConfig{FTP: &FTPConfig{}, SFTP: &SFTPConfig{}})
	require.Error(t, err)
}

func TestProviderConfigKind(t *testing.T) {
	assert.Equal(t, "s3", ProviderConfig{S3: &S3Config{}}.Kind())
	assert.Equal(t, "", ProviderConfig{}.Kind())
	assert.Equal(t, "", ProviderConfig{S3: &S3Config{}, FTP: &FTPConfig{}}.Kind())
}
