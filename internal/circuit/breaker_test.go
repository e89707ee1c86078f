package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

var errWire = providererr.New(providererr.ConnectionFailed, "test", "connection reset")

func failN(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		_ = b.Do(context.Background(), func(ctx context.Context) error { return errWire })
	}
}

func TestTripsAfterThreshold(t *testing.T) {
	b := New("ftp", Config{FailureThreshold: 3, Timeout: time.Minute})
	assert.Equal(t, StateClosed, b.State())

	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())

	err := b.Do(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestSuccessResetsConsecutiveCount(t *testing.T) {
	b := New("sftp", Config{FailureThreshold: 3, Timeout: time.Minute})
	failN(b, 2)
	require.NoError(t, b.Do(context.Background(), func(ctx context.Context) error { return nil }))
	failN(b, 2)
	assert.Equal(t, StateClosed, b.State())
}

func TestClientErrorsDoNotTrip(t *testing.T) {
	b := New("gdrive", Config{FailureThreshold: 2, Timeout: time.Minute})
	notFound := providererr.New(providererr.NotFound, "gdrive", "no such file")
	for i := 0; i < 10; i++ {
		err := b.Do(context.Background(), func(ctx context.Context) error { return notFound })
		require.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenRecovery(t *testing.T) {
	b := New("webdav", Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond, MaxProbes: 1})
	failN(b, 1)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(context.Background(), func(ctx context.Context) error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New("zoho", Config{FailureThreshold: 1, Timeout: 10 * time.Millisecond})
	failN(b, 1)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	failN(b, 1)
	assert.Equal(t, StateOpen, b.State())
}

func TestStateChangeCallback(t *testing.T) {
	var transitions []string
	b := New("s3", Config{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	failN(b, 1)
	b.Reset()
	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->CLOSED"}, transitions)
}

func TestGenericErrorCounts(t *testing.T) {
	// Errors outside the taxonomy still count as backend failures.
	b := New("x", Config{FailureThreshold: 1, Timeout: time.Minute})
	_ = b.Do(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	assert.Equal(t, StateOpen, b.State())
}

func TestManagerPerName(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 1, Timeout: time.Minute})
	a := m.Get("a")
	assert.Same(t, a, m.Get("a"))
	assert.NotSame(t, a, m.Get("b"))

	failN(a, 1)
	assert.Equal(t, []string{"a"}, m.Open())

	m.ResetAll()
	assert.Empty(t, m.Open())
	assert.Equal(t, StateClosed, a.State())
}
