// Package retrypolicy implements the bounded exponential backoff shared by
// every provider's outbound request path: base delay, factor-2 growth,
// jitter, a hard cap, and a max attempt count, with HTTP Retry-After taken
// into account on 429 responses.
package retrypolicy

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

// Policy configures backoff timing. Zero-value Policy is invalid; use
// DefaultPolicy().
type Policy struct {
	BaseDelay     time.Duration
	Factor        float64
	Jitter        float64 // fraction, e.g. 0.25 for +/-25%
	MaxDelay      time.Duration
	MaxAttempts   int
	RetryAfterCap time.Duration // ceiling for honoring an over-long Retry-After
}

// DefaultPolicy matches the documented defaults: 500ms base, factor 2,
// +/-25% jitter, 30s cap, 3 attempts, 120s Retry-After ceiling.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:     500 * time.Millisecond,
		Factor:        2,
		Jitter:        0.25,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   3,
		RetryAfterCap: 120 * time.Second,
	}
}

// retryableStatus reports whether an HTTP status code is one the policy
// retries on.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryableNetError reports whether err looks like a transient network
// failure (connect, reset, timeout) rather than a permanent one.
func retryableNetError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// delayForAttempt computes the backoff delay before attempt n (1-indexed),
// applying jitter, the hard cap, then Retry-After overrides if given.
func delayForAttempt(p Policy, attempt int, retryAfter time.Duration, haveRetryAfter bool) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	jitterSpan := base * p.Jitter
	delta := (rand.Float64()*2 - 1) * jitterSpan
	computed := time.Duration(base + delta)
	if computed < 0 {
		computed = 0
	}

	if !haveRetryAfter {
		return computed
	}
	if retryAfter < computed {
		return retryAfter
	}
	if retryAfter <= p.RetryAfterCap {
		return retryAfter
	}
	return computed
}

// ParseRetryAfter reads a Retry-After header value, which may be either a
// delay in seconds or an HTTP-date. Returns ok=false if absent/unparsable.
func ParseRetryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

// RequestBuilder constructs a fresh *http.Request for each attempt. Retries
// require a builder rather than a single request because a request's body
// cannot be safely replayed once read; a streamed (non-seekable) body
// should be wrapped by a builder that returns ErrStreamingBodyNotRetryable
// on the second call, or the caller should use MaxAttempts: 1.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Do runs fn, retrying per p on transient errors it reports via
// providererr.Retryable, until MaxAttempts is exhausted or ctx is done.
// fn should return a *providererr.ProviderError classifying any failure; a
// RateLimited error may carry a RetryHint that seeds the backoff.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !providererr.Retryable(err) || attempt == p.MaxAttempts {
			return err
		}

		var retryAfter time.Duration
		haveRetryAfter := false
		var pe *providererr.ProviderError
		if errors.As(err, &pe) && pe.RetryHint > 0 {
			retryAfter = time.Duration(pe.RetryHint) * time.Second
			haveRetryAfter = true
		}
		delay := delayForAttempt(p, attempt, retryAfter, haveRetryAfter)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

// SendWithRetry builds and issues an HTTP request via build, retrying per p
// on network errors and the retryable status set (408/429/500/502/503/504).
// The caller is responsible for ensuring build's body is re-issuable; pass
// MaxAttempts: 1 in p for a streamed, non-replayable body.
func SendWithRetry(ctx context.Context, client *http.Client, p Policy, build RequestBuilder) (*http.Response, error) {
	var resp *http.Response
	err := Do(ctx, p, func(ctx context.Context, attempt int) error {
		req, berr := build(ctx)
		if berr != nil {
			return providererr.Wrap(providererr.Other, "", "failed to build request", berr)
		}
		r, serr := client.Do(req)
		if serr != nil {
			if retryableNetError(serr) {
				return providererr.Wrap(providererr.ConnectionFailed, "", serr.Error(), serr)
			}
			return providererr.Wrap(providererr.IoError, "", serr.Error(), serr)
		}
		if retryableStatus(r.StatusCode) {
			kind := providererr.ServerError
			if r.StatusCode == http.StatusTooManyRequests {
				kind = providererr.RateLimited
			}
			retryAfter, ok := ParseRetryAfter(r.Header.Get("Retry-After"))
			body, _ := io.ReadAll(io.LimitReader(r.Body, 4096))
			r.Body.Close()
			pe := providererr.New(kind, "", string(body))
			if ok {
				pe = pe.WithHTTP(r.StatusCode, int(retryAfter.Seconds()))
			} else {
				pe = pe.WithHTTP(r.StatusCode, 0)
			}
			return pe
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
