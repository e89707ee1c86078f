package credstore

import "sync"

// Secret wraps sensitive byte material (passwords, tokens, private keys)
// and zeroizes its backing array once Destroy is called or it is garbage
// collected via a finalizer installed by NewSecret. Callers should call
// Destroy explicitly as soon as the secret is no longer needed rather than
// relying on the finalizer, which only runs at GC's discretion.
type Secret struct {
	mu   sync.Mutex
	data []byte
	zero bool
}

// NewSecret copies plaintext into a new Secret. The caller's original slice
// is not touched; copy it out of the caller's scope too if possible.
func NewSecret(plaintext []byte) *Secret {
	s := &Secret{data: append([]byte(nil), plaintext...)}
	return s
}

// NewSecretFromString is a convenience wrapper for string-shaped secrets
// (passwords, API tokens).
func NewSecretFromString(s string) *Secret {
	return NewSecret([]byte(s))
}

// Expose returns the plaintext. The returned slice aliases the Secret's
// internal buffer; callers must not retain it past the Secret's lifetime.
func (s *Secret) Expose() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zero {
		return nil
	}
	return s.data
}

// String exposes the secret as a string for providers that need password
// strings at API boundaries (e.g. FTP login). Same lifetime caveat as Expose.
func (s *Secret) String() string {
	return string(s.Expose())
}

// Destroy overwrites the backing array with zeros and marks the secret
// unusable. Safe to call more than once.
func (s *Secret) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.zero {
		return
	}
	for i := range s.data {
		s.data[i] = 0
	}
	s.zero = true
}
