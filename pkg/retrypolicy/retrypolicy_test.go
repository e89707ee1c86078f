package retrypolicy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

func TestParseRetryAfterSeconds(t *testing.T) {
	d, ok := ParseRetryAfter("30")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	d, ok := ParseRetryAfter(future)
	require.True(t, ok)
	assert.Greater(t, d, time.Duration(0))
}

func TestParseRetryAfterAbsent(t *testing.T) {
	_, ok := ParseRetryAfter("")
	assert.False(t, ok)
}

func TestParseRetryAfterNegativeRejected(t *testing.T) {
	_, ok := ParseRetryAfter("-5")
	assert.False(t, ok)
}

func TestDelayForAttemptHonorsShortRetryAfter(t *testing.T) {
	p := DefaultPolicy()
	d := delayForAttempt(p, 3, 100*time.Millisecond, true)
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestDelayForAttemptIgnoresOverLongRetryAfter(t *testing.T) {
	p := DefaultPolicy()
	d := delayForAttempt(p, 1, 500*time.Second, true)
	assert.LessOrEqual(t, d, p.MaxDelay+time.Duration(float64(p.MaxDelay)*p.Jitter))
}

func TestDelayForAttemptRespectsCapAndJitter(t *testing.T) {
	p := DefaultPolicy()
	for attempt := 1; attempt <= 6; attempt++ {
		d := delayForAttempt(p, attempt, 0, false)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, p.MaxDelay+time.Duration(float64(p.MaxDelay)*p.Jitter)+1)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond

	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 2 {
			return providererr.New(providererr.ConnectionFailed, "test", "reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	p := DefaultPolicy()
	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		attempts++
		return providererr.New(providererr.NotFound, "test", "gone")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, providererr.Matches(err, providererr.NotFound))
}

func TestDoExhaustsAttempts(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.MaxAttempts = 3

	attempts := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		attempts++
		return providererr.New(providererr.ServerError, "test", "still broken")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	p := DefaultPolicy()
	p.BaseDelay = time.Second
	p.MaxAttempts = 3

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		attempts++
		return providererr.New(providererr.ConnectionFailed, "test", "down")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSendWithRetryRetriesOn503ThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond

	resp, err := SendWithRetry(context.Background(), srv.Client(), p, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, calls)
}

func TestSendWithRetryHonorsRetryAfterOn429(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := DefaultPolicy()
	resp, err := SendWithRetry(context.Background(), srv.Client(), p, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSendWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := DefaultPolicy()
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.MaxAttempts = 2

	_, err := SendWithRetry(context.Background(), srv.Client(), p, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
	assert.True(t, providererr.Matches(err, providererr.ServerError))
}
