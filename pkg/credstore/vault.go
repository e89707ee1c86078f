package credstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

// Argon2id KDF parameters, fixed per the documented contract.
const (
	argon2Memory  = 64 * 1024 // KiB -> 64 MiB
	argon2Time    = 3
	argon2Threads = 1
	argon2KeyLen  = 32
	saltLen       = 16
)

// VaultBackend stores secrets as a JSON map encrypted with AES-256-GCM, the
// key derived by Argon2id from a user-chosen master password. A decryption
// failure (wrong password) is indistinguishable from any other failure: the
// GCM tag check is a constant-time comparison, so there is no separate
// "wrong password" code path to accidentally leak timing information
// through.
type VaultBackend struct {
	mu         sync.Mutex
	vaultPath  string
	saltPath   string
	masterKey  []byte // derived once, held for the backend's lifetime
	secrets    map[string]string
}

type vaultBlob struct {
	Secrets map[string]string `json:"secrets"`
}

// OpenVault unlocks (or initializes) the vault under configDir with
// masterPassword. The salt is generated and persisted on first use; on
// subsequent opens it is read back and reused to re-derive the same key.
func OpenVault(configDir string, masterPassword *Secret) (*VaultBackend, error) {
	if err := hardenConfigDir(configDir); err != nil {
		return nil, err
	}
	v := &VaultBackend{
		vaultPath: filepath.Join(configDir, "vault.bin"),
		saltPath:  filepath.Join(configDir, "vault.salt"),
	}

	salt, err := v.loadOrCreateSalt()
	if err != nil {
		return nil, err
	}
	v.masterKey = argon2.IDKey(masterPassword.Expose(), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	secrets, err := v.loadSecrets()
	if err != nil {
		return nil, err
	}
	v.secrets = secrets
	return v, nil
}

func (v *VaultBackend) Backend() string { return "vault" }

func (v *VaultBackend) loadOrCreateSalt() ([]byte, error) {
	data, err := os.ReadFile(v.saltPath)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, providererr.Wrap(providererr.IoError, "credstore", "read vault salt", err)
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, providererr.Wrap(providererr.Other, "credstore", "generate vault salt", err)
	}
	if err := os.WriteFile(v.saltPath, salt, 0o600); err != nil {
		return nil, providererr.Wrap(providererr.IoError, "credstore", "write vault salt", err)
	}
	return salt, nil
}

func (v *VaultBackend) loadSecrets() (map[string]string, error) {
	data, err := os.ReadFile(v.vaultPath)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, providererr.Wrap(providererr.IoError, "credstore", "read vault file", err)
	}
	if len(data) == 0 {
		return make(map[string]string), nil
	}
	plain, err := decryptGCM(v.masterKey, data)
	if err != nil {
		// A decryption failure here is indistinguishable from a wrong master
		// password: the GCM tag mismatch surfaces the same way regardless of
		// cause.
		return nil, providererr.New(providererr.AuthenticationFailed, "credstore", "vault unlock failed")
	}
	var blob vaultBlob
	if err := json.Unmarshal(plain, &blob); err != nil {
		return nil, providererr.Wrap(providererr.ParseError, "credstore", "parse vault contents", err)
	}
	if blob.Secrets == nil {
		blob.Secrets = make(map[string]string)
	}
	return blob.Secrets, nil
}

func (v *VaultBackend) persist() error {
	blob := vaultBlob{Secrets: v.secrets}
	plain, err := json.Marshal(blob)
	if err != nil {
		return providererr.Wrap(providererr.Other, "credstore", "marshal vault contents", err)
	}
	ciphertext, err := encryptGCM(v.masterKey, plain)
	if err != nil {
		return providererr.Wrap(providererr.Other, "credstore", "encrypt vault", err)
	}
	if err := os.WriteFile(v.vaultPath, ciphertext, 0o600); err != nil {
		return providererr.Wrap(providererr.IoError, "credstore", "write vault file", err)
	}
	return nil
}

func (v *VaultBackend) SetSecret(ctx context.Context, account string, secret *Secret) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[account] = secret.String()
	return v.persist()
}

func (v *VaultBackend) GetSecret(ctx context.Context, account string) (*Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.secrets[account]
	if !ok {
		return nil, providererr.New(providererr.NotFound, "credstore", "no secret for account "+account)
	}
	return NewSecretFromString(val), nil
}

func (v *VaultBackend) DeleteSecret(ctx context.Context, account string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.secrets[account]; !ok {
		return nil
	}
	delete(v.secrets, account)
	return v.persist()
}

func (v *VaultBackend) ListAccounts(ctx context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	accounts := make([]string, 0, len(v.secrets))
	for a := range v.secrets {
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func encryptGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptGCM(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(data) < gcm.NonceSize() {
		return nil, providererr.New(providererr.ParseError, "credstore", "ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
