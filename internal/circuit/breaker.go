// Package circuit implements a per-provider circuit breaker around wire
// operations: when a backend keeps failing, further calls are rejected
// immediately for a cool-down window instead of tying up the retry budget
// against a host that is clearly down. Caller-side errors (NotFound,
// InvalidPath, NotSupported, AccessDenied) never count as failures — they
// describe the request, not the backend's health.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

// State is the breaker's position.
type State int

const (
	// StateClosed passes requests through, counting failures.
	StateClosed State = iota
	// StateOpen rejects requests until the cool-down expires.
	StateOpen
	// StateHalfOpen admits a limited number of probes to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrOpen is returned when the breaker rejects a call outright.
var ErrOpen = errors.New("circuit breaker is open")

// ErrTooManyProbes is returned when the half-open probe budget is spent.
var ErrTooManyProbes = errors.New("too many probes in half-open state")

// Config tunes one breaker.
type Config struct {
	// ConsecutiveFailures in the closed state that trip the breaker.
	FailureThreshold int `yaml:"failure_threshold"`
	// Timeout is the open-state cool-down before probing again.
	Timeout time.Duration `yaml:"timeout"`
	// MaxProbes is the number of requests admitted while half-open.
	MaxProbes int `yaml:"max_probes"`
	// OnStateChange, if set, is called on every transition.
	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// Counts tracks request outcomes within the current state.
type Counts struct {
	Requests            int
	Successes           int
	Failures            int
	ConsecutiveFailures int
}

// Breaker guards one provider's wire access.
type Breaker struct {
	name string
	cfg  Config

	mu     sync.Mutex
	state  State
	counts Counts
	expiry time.Time // open-state cool-down deadline
}

// New builds a closed Breaker named after the provider it guards.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = 1
	}
	return &Breaker{name: name, cfg: cfg, state: StateClosed}
}

// countsAsFailure reports whether err indicates backend trouble rather than
// a well-formed answer about this particular request.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch providererr.KindOf(err) {
	case providererr.NotFound, providererr.InvalidPath, providererr.NotSupported,
		providererr.AccessDenied, providererr.AuthenticationFailed:
		return false
	}
	return true
}

// Do runs fn if the breaker admits the call, recording the outcome.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.advance(now)

	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.counts.Requests >= b.cfg.MaxProbes {
			return ErrTooManyProbes
		}
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.advance(now)

	if !countsAsFailure(err) {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	switch b.state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// advance moves an expired open state to half-open. Callers hold b.mu.
func (b *Breaker) advance(now time.Time) {
	if b.state == StateOpen && b.expiry.Before(now) {
		b.transition(StateHalfOpen, now)
	}
}

// transition changes state and resets counts. Callers hold b.mu.
func (b *Breaker) transition(state State, now time.Time) {
	if b.state == state {
		return
	}
	prev := b.state
	b.state = state
	b.counts = Counts{}
	if state == StateOpen {
		b.expiry = now.Add(b.cfg.Timeout)
	} else {
		b.expiry = time.Time{}
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, prev, state)
	}
}

// State reports the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(time.Now())
	return b.state
}

// Counts returns a copy of the current window's counters.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed, time.Now())
	b.counts = Counts{}
}

// Name reports which provider this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Manager hands out one Breaker per provider tag, all sharing a Config.
type Manager struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewManager builds an empty Manager.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for name, creating it on first use.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[name]; ok {
		return b
	}
	b = New(name, m.cfg)
	m.breakers[name] = b
	return b
}

// Open lists the names of breakers currently rejecting calls.
func (m *Manager) Open() []string {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	var open []string
	for _, b := range breakers {
		if b.State() == StateOpen {
			open = append(open, b.Name())
		}
	}
	return open
}

// ResetAll closes every breaker.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()
	for _, b := range breakers {
		b.Reset()
	}
}
