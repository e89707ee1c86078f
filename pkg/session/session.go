// Package session manages StorageProvider lifecycles for a host: either a
// single always-current active provider, or a registry of named sessions
// with one marked active. Identifiers are opaque strings unique for the
// lifetime of the process.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aeroftp/aerocore/internal/circuit"
	"github.com/aeroftp/aerocore/internal/metrics"
	"github.com/aeroftp/aerocore/pkg/pathutil"
	"github.com/aeroftp/aerocore/pkg/provider"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

// Manager holds at most one connected provider. Connecting a new one first
// disconnects whatever was previously connected. Every operation against
// the active provider is serialized through mu, matching the
// one-exclusive-lock-per-provider-instance contract providers rely on.
type Manager struct {
	mu     sync.Mutex
	active provider.StorageProvider
}

// NewManager builds an empty single-active-provider Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Connect disconnects any existing active provider, then connects p and
// makes it active.
func (m *Manager) Connect(ctx context.Context, p provider.StorageProvider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		_ = m.active.Disconnect(ctx) // idempotent; best-effort on replace
	}
	if err := p.Connect(ctx); err != nil {
		return err
	}
	m.active = p
	return nil
}

// Disconnect disconnects and clears the active provider. Idempotent.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	err := m.active.Disconnect(ctx)
	m.active = nil
	return err
}

// Active returns the current provider, or nil if none is connected.
func (m *Manager) Active() provider.StorageProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Do runs fn against the active provider under the manager's lock,
// returning NotConnected if none is active. Callers that need multiple
// operations to appear atomic from another goroutine's perspective should
// use Do rather than calling Active() and operating on the result directly.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context, p provider.StorageProvider) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return providererr.New(providererr.NotConnected, "", "no active provider")
	}
	return fn(ctx, m.active)
}

// SessionRecord is one entry in a multi-session Registry.
type SessionRecord struct {
	ID       string
	Provider provider.StorageProvider
	Label    string // host-assigned display name, e.g. "Work S3"
}

// Registry tracks multiple concurrent provider sessions, exactly one of
// which is marked active at a time. Per-session operations route to that
// session's own provider instance and lock; switching active does not
// touch any other session's connection state.
type Registry struct {
	mu        sync.Mutex
	sessions  map[string]*SessionRecord
	locks     map[string]*sync.Mutex
	activeID  string
	collector *metrics.Collector
	breakers  *circuit.Manager
}

// NewRegistry builds an empty multi-session Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*SessionRecord),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetCollector attaches an operation/session metrics collector. Safe to
// leave unset; recording is skipped entirely then.
func (r *Registry) SetCollector(c *metrics.Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collector = c
}

// SetBreakers attaches a circuit-breaker manager: every session gets its
// own breaker keyed by session ID, guarding the wire operations DoSession
// runs. Safe to leave unset.
func (r *Registry) SetBreakers(m *circuit.Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = m
}

// CreateSession connects p, registers it under a fresh opaque ID, and
// returns the ID. The new session does not become active automatically;
// call Switch explicitly.
func (r *Registry) CreateSession(ctx context.Context, label string, p provider.StorageProvider) (string, error) {
	if err := p.Connect(ctx); err != nil {
		return "", err
	}
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[id] = &SessionRecord{ID: id, Provider: p, Label: label}
	r.locks[id] = &sync.Mutex{}
	if r.activeID == "" {
		r.activeID = id
	}
	if r.collector != nil {
		r.collector.SessionOpened()
	}
	return id, nil
}

// Switch changes the active session to id without touching any other
// session's connection.
func (r *Registry) Switch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return providererr.New(providererr.NotFound, "", "no session with id "+pathutil.SanitizeAPIError(id))
	}
	r.activeID = id
	return nil
}

// ActiveID returns the currently active session's ID, or "" if none.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Get returns the session record for id.
func (r *Registry) Get(id string) (*SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.sessions[id]
	if !ok {
		return nil, providererr.New(providererr.NotFound, "", "no session with that id")
	}
	return rec, nil
}

// Disconnect disconnects and removes the session id from the registry. If
// it was active, ActiveID becomes "" until Switch is called again.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, id)
	delete(r.locks, id)
	if r.activeID == id {
		r.activeID = ""
	}
	collector := r.collector
	r.mu.Unlock()
	if collector != nil {
		collector.SessionClosed()
	}
	return rec.Provider.Disconnect(ctx)
}

// DoSession runs fn against the provider for id, serialized behind that
// session's own lock so concurrent callers against the same session
// interleave at operation granularity, never at wire level; independent
// sessions run fully in parallel.
func (r *Registry) DoSession(ctx context.Context, id string, fn func(ctx context.Context, p provider.StorageProvider) error) error {
	return r.DoSessionOp(ctx, id, "op", fn)
}

// DoSessionOp is DoSession with an operation label for metrics. When a
// breaker manager is attached and the session's breaker is open, the call
// fails fast with ConnectionFailed instead of touching the wire.
func (r *Registry) DoSessionOp(ctx context.Context, id, op string, fn func(ctx context.Context, p provider.StorageProvider) error) error {
	r.mu.Lock()
	rec, ok := r.sessions[id]
	lock := r.locks[id]
	collector := r.collector
	breakers := r.breakers
	r.mu.Unlock()
	if !ok {
		return providererr.New(providererr.NotFound, "", "no session with that id")
	}
	lock.Lock()
	defer lock.Unlock()

	run := func(ctx context.Context) error { return fn(ctx, rec.Provider) }
	started := time.Now()
	var err error
	if breakers != nil {
		err = breakers.Get(id).Do(ctx, run)
		if err == circuit.ErrOpen || err == circuit.ErrTooManyProbes {
			err = providererr.Wrap(providererr.ConnectionFailed, "", "session temporarily unavailable", err)
		}
	} else {
		err = run(ctx)
	}
	if collector != nil {
		collector.RecordOperation(rec.Label, op, time.Since(started), err)
	}
	return err
}

// DoActive runs fn against the currently active session's provider.
func (r *Registry) DoActive(ctx context.Context, fn func(ctx context.Context, p provider.StorageProvider) error) error {
	id := r.ActiveID()
	if id == "" {
		return providererr.New(providererr.NotConnected, "", "no active session")
	}
	return r.DoSession(ctx, id, fn)
}

// Clear disconnects and removes every session, for app shutdown.
func (r *Registry) Clear(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		_ = r.Disconnect(ctx, id)
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
