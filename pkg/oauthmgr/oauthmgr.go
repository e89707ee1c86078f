// Package oauthmgr drives the authorization-code (+ PKCE) OAuth2 flow used
// by Google Drive, Zoho, and Jottacloud: it starts a loopback callback
// listener, builds the authorization URL, exchanges the returned code for
// tokens, and keeps tokens fresh with per-provider refresh coalescing.
package oauthmgr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/aeroftp/aerocore/pkg/credstore"
	"github.com/aeroftp/aerocore/pkg/providererr"
)

// ProviderOAuthConfig describes one provider's OAuth2 endpoints and knobs.
type ProviderOAuthConfig struct {
	ProviderTag  string // e.g. "gdrive", "zoho", "jottacloud"
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	RequiresPKCE bool
	ExtraAuthParams map[string]string
}

// storedToken is the JSON shape persisted via the credential store under
// credstore.OAuthTokenKey(provider_tag).
type storedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	TokenType    string    `json:"token_type"`
}

// pendingFlow tracks an in-flight start_auth_flow call awaiting its callback.
type pendingFlow struct {
	state        string
	verifier     string
	cfg          ProviderOAuthConfig
	listener     *callbackListener
	resultCh     chan callbackResult
}

// Manager owns in-flight flows and per-provider refresh locks. One Manager
// is shared across all OAuth-backed providers in a process.
type Manager struct {
	store Store

	mu       sync.Mutex
	pending  map[string]*pendingFlow // keyed by state

	refreshMu sync.Map // provider_tag -> *sync.Mutex, serializes concurrent refreshes
}

// Store is the subset of credstore.Store oauthmgr depends on, narrowed so
// tests can substitute an in-memory fake.
type Store interface {
	SetSecret(ctx context.Context, account string, secret *credstore.Secret) error
	GetSecret(ctx context.Context, account string) (*credstore.Secret, error)
	DeleteSecret(ctx context.Context, account string) error
}

// New builds a Manager backed by store.
func New(store Store) *Manager {
	return &Manager{store: store, pending: make(map[string]*pendingFlow)}
}

// AuthFlowHandle is returned to the caller to open in the user's browser.
type AuthFlowHandle struct {
	AuthURL string
	State   string
}

func generateRandomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// pkcePair generates a verifier and its S256 challenge.
func pkcePair() (verifier, challenge string, err error) {
	verifier, err = generateRandomToken(32)
	if err != nil {
		return "", "", err
	}
	sum := sha256.Sum256([]byte(verifier))
	challenge = base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge, nil
}

// StartAuthFlow binds an ephemeral loopback listener, builds the
// authorization URL (including state and, if required, the PKCE
// challenge), and returns it for the caller to open in a browser. The
// listener runs in the background awaiting the single callback request;
// call CompleteAuthFlow after the browser redirects (or rely on the
// listener's own blocking Await if driving the flow from one goroutine).
func (m *Manager) StartAuthFlow(ctx context.Context, cfg ProviderOAuthConfig) (*AuthFlowHandle, *pendingFlow, error) {
	state, err := generateRandomToken(24) // >=128 bits
	if err != nil {
		return nil, nil, providererr.Wrap(providererr.Other, cfg.ProviderTag, "generate state", err)
	}

	var verifier, challenge string
	if cfg.RequiresPKCE {
		verifier, challenge, err = pkcePair()
		if err != nil {
			return nil, nil, providererr.Wrap(providererr.Other, cfg.ProviderTag, "generate PKCE pair", err)
		}
	}

	listener, err := newCallbackListener()
	if err != nil {
		return nil, nil, providererr.Wrap(providererr.ConnectionFailed, cfg.ProviderTag, "bind loopback listener", err)
	}

	oauthCfg := m.buildOAuth2Config(cfg, listener.redirectURL())
	var opts []oauth2.AuthCodeOption
	for k, v := range cfg.ExtraAuthParams {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	if cfg.RequiresPKCE {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"))
	}
	authURL := oauthCfg.AuthCodeURL(state, opts...)

	flow := &pendingFlow{state: state, verifier: verifier, cfg: cfg, listener: listener, resultCh: make(chan callbackResult, 1)}
	m.mu.Lock()
	m.pending[state] = flow
	m.mu.Unlock()

	listener.serveOnce(flow.resultCh)

	return &AuthFlowHandle{AuthURL: authURL, State: state}, flow, nil
}

// CompleteAuthFlow waits for the callback (or ctx to expire), verifies
// state, exchanges the code for tokens, and persists them.
func (m *Manager) CompleteAuthFlow(ctx context.Context, flow *pendingFlow) error {
	defer func() {
		m.mu.Lock()
		delete(m.pending, flow.state)
		m.mu.Unlock()
		flow.listener.close()
	}()

	var result callbackResult
	select {
	case result = <-flow.resultCh:
	case <-ctx.Done():
		return providererr.Wrap(providererr.AuthenticationFailed, flow.cfg.ProviderTag, "auth flow cancelled before callback", ctx.Err())
	}
	if result.err != "" {
		return providererr.New(providererr.AuthenticationFailed, flow.cfg.ProviderTag, "authorization denied: "+result.err)
	}
	if result.state != flow.state {
		return providererr.New(providererr.AuthenticationFailed, flow.cfg.ProviderTag, "state mismatch, possible CSRF")
	}

	oauthCfg := m.buildOAuth2Config(flow.cfg, flow.listener.redirectURL())
	var opts []oauth2.AuthCodeOption
	if flow.cfg.RequiresPKCE {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", flow.verifier))
	}
	tok, err := oauthCfg.Exchange(ctx, result.code, opts...)
	if err != nil {
		return providererr.Wrap(providererr.AuthenticationFailed, flow.cfg.ProviderTag, "token exchange failed", err)
	}

	return m.persistToken(ctx, flow.cfg.ProviderTag, tok)
}

func (m *Manager) buildOAuth2Config(cfg ProviderOAuthConfig, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       cfg.Scopes,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.AuthURL,
			TokenURL: cfg.TokenURL,
		},
	}
}

func (m *Manager) persistToken(ctx context.Context, providerTag string, tok *oauth2.Token) error {
	st := storedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		TokenType:    tok.TokenType,
	}
	data, err := json.Marshal(st)
	if err != nil {
		return providererr.Wrap(providererr.Other, providerTag, "marshal token", err)
	}
	sec := credstore.NewSecret(data)
	defer sec.Destroy()
	if err := m.store.SetSecret(ctx, credstore.OAuthTokenKey(providerTag), sec); err != nil {
		return providererr.Wrap(providererr.IoError, providerTag, "persist token", err)
	}
	return nil
}

func (m *Manager) loadToken(ctx context.Context, providerTag string) (*storedToken, error) {
	sec, err := m.store.GetSecret(ctx, credstore.OAuthTokenKey(providerTag))
	if err != nil {
		return nil, err
	}
	defer sec.Destroy()
	var st storedToken
	if err := json.Unmarshal(sec.Expose(), &st); err != nil {
		return nil, providererr.Wrap(providererr.ParseError, providerTag, "parse stored token", err)
	}
	return &st, nil
}

// refreshLock returns the per-provider-tag mutex, creating it on first use.
func (m *Manager) refreshLock(providerTag string) *sync.Mutex {
	v, _ := m.refreshMu.LoadOrStore(providerTag, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// refreshWindow is how far ahead of expiry GetValidToken proactively refreshes.
const refreshWindow = 60 * time.Second

// GetValidToken returns a currently-valid access token for providerTag,
// refreshing transparently if it expires within refreshWindow. Concurrent
// callers for the same provider tag coalesce onto a single refresh via a
// per-tag lock: the second caller to acquire the lock re-checks expiry and
// finds the token already fresh, skipping a redundant network round trip.
func (m *Manager) GetValidToken(ctx context.Context, cfg ProviderOAuthConfig) (string, error) {
	lock := m.refreshLock(cfg.ProviderTag)
	lock.Lock()
	defer lock.Unlock()

	st, err := m.loadToken(ctx, cfg.ProviderTag)
	if err != nil {
		return "", err
	}
	if time.Until(st.ExpiresAt) >= refreshWindow {
		return st.AccessToken, nil
	}
	if st.RefreshToken == "" {
		return "", providererr.New(providererr.AuthenticationFailed, cfg.ProviderTag, "token expired and no refresh token available")
	}

	oauthCfg := m.buildOAuth2Config(cfg, "")
	src := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: st.RefreshToken})
	newTok, err := src.Token()
	if err != nil {
		if isInvalidGrant(err) {
			_ = m.store.DeleteSecret(ctx, credstore.OAuthTokenKey(cfg.ProviderTag))
			return "", providererr.New(providererr.AuthenticationFailed, cfg.ProviderTag, "refresh_token rejected (invalid_grant)")
		}
		return "", providererr.Wrap(providererr.ConnectionFailed, cfg.ProviderTag, "token refresh failed", err)
	}
	if err := m.persistToken(ctx, cfg.ProviderTag, newTok); err != nil {
		return "", err
	}
	return newTok.AccessToken, nil
}

func isInvalidGrant(err error) bool {
	var rErr *oauth2.RetrieveError
	if ok := asRetrieveError(err, &rErr); ok {
		return rErr.Response != nil && rErr.Response.StatusCode == http.StatusBadRequest &&
			rErr.ErrorCode == "invalid_grant"
	}
	return false
}

func asRetrieveError(err error, target **oauth2.RetrieveError) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if re, ok := err.(*oauth2.RetrieveError); ok {
			*target = re
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// HasTokens reports whether any token is currently persisted for providerTag.
func (m *Manager) HasTokens(ctx context.Context, providerTag string) bool {
	_, err := m.loadToken(ctx, providerTag)
	return err == nil
}

// Logout deletes any persisted token for providerTag.
func (m *Manager) Logout(ctx context.Context, providerTag string) error {
	return m.store.DeleteSecret(ctx, credstore.OAuthTokenKey(providerTag))
}
