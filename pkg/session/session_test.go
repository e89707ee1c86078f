package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/internal/circuit"
	"github.com/aeroftp/aerocore/internal/metrics"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

type stubProvider struct {
	mu           sync.Mutex
	connected    bool
	connectCalls int
	disconnects  int
}

func (s *stubProvider) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	s.connectCalls++
	return nil
}
func (s *stubProvider) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.disconnects++
	return nil
}
func (s *stubProvider) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}
func (s *stubProvider) KeepAlive(ctx context.Context) error                      { return nil }
func (s *stubProvider) ServerInfo(ctx context.Context) (string, error)           { return "stub", nil }
func (s *stubProvider) AccountEmail(ctx context.Context) (string, error)         { return "", nil }
func (s *stubProvider) List(ctx context.Context, path string) ([]provider.RemoteEntry, error) {
	return nil, nil
}
func (s *stubProvider) Pwd() string                                          { return "/" }
func (s *stubProvider) Cd(ctx context.Context, path string) error           { return nil }
func (s *stubProvider) CdUp(ctx context.Context) error                      { return nil }
func (s *stubProvider) Stat(ctx context.Context, path string) (provider.RemoteEntry, error) {
	return provider.RemoteEntry{}, nil
}
func (s *stubProvider) Size(ctx context.Context, path string) (int64, error) { return 0, nil }
func (s *stubProvider) Exists(ctx context.Context, path string) (bool, error) {
	return false, nil
}
func (s *stubProvider) Download(ctx context.Context, remote, local string, progress provider.ProgressFunc) error {
	return nil
}
func (s *stubProvider) DownloadToBytes(ctx context.Context, remote string, maxBytes int64) ([]byte, error) {
	return nil, nil
}
func (s *stubProvider) Upload(ctx context.Context, local, remote string, progress provider.ProgressFunc) error {
	return nil
}
func (s *stubProvider) Mkdir(ctx context.Context, path string) error          { return nil }
func (s *stubProvider) Delete(ctx context.Context, path string) error        { return nil }
func (s *stubProvider) Rmdir(ctx context.Context, path string) error         { return nil }
func (s *stubProvider) RmdirRecursive(ctx context.Context, path string) error { return nil }
func (s *stubProvider) Rename(ctx context.Context, from, to string) error    { return nil }

func TestManagerConnectReplacesPrevious(t *testing.T) {
	m := NewManager()
	p1 := &stubProvider{}
	p2 := &stubProvider{}

	require.NoError(t, m.Connect(context.Background(), p1))
	assert.True(t, p1.IsConnected())

	require.NoError(t, m.Connect(context.Background(), p2))
	assert.False(t, p1.IsConnected())
	assert.True(t, p2.IsConnected())
	assert.Equal(t, p2, m.Active())
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Disconnect(context.Background()))

	p := &stubProvider{}
	require.NoError(t, m.Connect(context.Background(), p))
	require.NoError(t, m.Disconnect(context.Background()))
	require.NoError(t, m.Disconnect(context.Background()))
	assert.Nil(t, m.Active())
}

func TestManagerDoFailsWhenNotConnected(t *testing.T) {
	m := NewManager()
	err := m.Do(context.Background(), func(ctx context.Context, p provider.StorageProvider) error {
		return nil
	})
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotConnected))
}

func TestRegistryCreateAndSwitch(t *testing.T) {
	r := NewRegistry()
	id1, err := r.CreateSession(context.Background(), "first", &stubProvider{})
	require.NoError(t, err)
	assert.Equal(t, id1, r.ActiveID())

	id2, err := r.CreateSession(context.Background(), "second", &stubProvider{})
	require.NoError(t, err)
	assert.Equal(t, id1, r.ActiveID(), "creating a session should not change active")

	require.NoError(t, r.Switch(id2))
	assert.Equal(t, id2, r.ActiveID())
}

func TestRegistrySwitchDoesNotDisconnectOthers(t *testing.T) {
	r := NewRegistry()
	id1, _ := r.CreateSession(context.Background(), "a", &stubProvider{})
	id2, _ := r.CreateSession(context.Background(), "b", &stubProvider{})
	require.NoError(t, r.Switch(id2))

	rec1, err := r.Get(id1)
	require.NoError(t, err)
	assert.True(t, rec1.Provider.(*stubProvider).IsConnected())
}

func TestRegistryDisconnectRemovesSession(t *testing.T) {
	r := NewRegistry()
	id, _ := r.CreateSession(context.Background(), "a", &stubProvider{})
	require.NoError(t, r.Disconnect(context.Background(), id))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, "", r.ActiveID())

	_, err := r.Get(id)
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotFound))
}

func TestRegistryDoActiveRoutesToActiveSession(t *testing.T) {
	r := NewRegistry()
	p := &stubProvider{}
	id, _ := r.CreateSession(context.Background(), "a", p)
	require.NoError(t, r.Switch(id))

	called := false
	err := r.DoActive(context.Background(), func(ctx context.Context, got provider.StorageProvider) error {
		called = true
		assert.Equal(t, p, got)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestRegistryClearDisconnectsAll(t *testing.T) {
	r := NewRegistry()
	p1 := &stubProvider{}
	p2 := &stubProvider{}
	r.CreateSession(context.Background(), "a", p1)
	r.CreateSession(context.Background(), "b", p2)

	r.Clear(context.Background())
	assert.Equal(t, 0, r.Len())
	assert.False(t, p1.IsConnected())
	assert.False(t, p2.IsConnected())
}

func TestRegistrySwitchRejectsUnknownID(t *testing.T) {
	r := NewRegistry()
	err := r.Switch("nonexistent")
	require.Error(t, err)
	assert.True(t, providererr.Matches(err, providererr.NotFound))
}

func TestDoSessionOpBreakerFailsFastWhenOpen(t *testing.T) {
	r := NewRegistry()
	r.SetBreakers(circuit.NewManager(circuit.Config{FailureThreshold: 2, Timeout: time.Minute}))

	p := &stubProvider{}
	id, err := r.CreateSession(context.Background(), "flaky", p)
	require.NoError(t, err)

	wireErr := providererr.New(providererr.ConnectionFailed, "stub", "reset by peer")
	for i := 0; i < 2; i++ {
		err := r.DoSessionOp(context.Background(), id, "list", func(ctx context.Context, _ provider.StorageProvider) error {
			return wireErr
		})
		require.Error(t, err)
	}

	// Breaker is open now: the callback must not run.
	ran := false
	err = r.DoSessionOp(context.Background(), id, "list", func(ctx context.Context, _ provider.StorageProvider) error {
		ran = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, ran)
	assert.True(t, providererr.Matches(err, providererr.ConnectionFailed))
}

func TestDoSessionOpRecordsMetrics(t *testing.T) {
	r := NewRegistry()
	collector := metrics.NewCollector(&metrics.Config{Enabled: true, Namespace: "aerocore_test"})
	r.SetCollector(collector)

	p := &stubProvider{}
	id, err := r.CreateSession(context.Background(), "work", p)
	require.NoError(t, err)

	require.NoError(t, r.DoSessionOp(context.Background(), id, "stat", func(ctx context.Context, _ provider.StorageProvider) error {
		return nil
	}))
	require.NoError(t, r.Disconnect(context.Background(), id))
}
