package credstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"

	"github.com/aeroftp/aerocore/pkg/providererr"
)

const keyringService = "aerocore"

// KeyringBackend stores secrets in the platform-native secret service
// (Keychain on macOS, libsecret on Linux, Credential Manager on Windows)
// via zalando/go-keyring. It maintains a side file of owned account keys
// because keyrings do not reliably support enumeration across platforms.
type KeyringBackend struct {
	service      string
	mu           sync.Mutex
	accountsPath string
}

// NewKeyringBackend builds a KeyringBackend whose accounts side file lives
// under configDir.
func NewKeyringBackend(configDir string) (*KeyringBackend, error) {
	if err := hardenConfigDir(configDir); err != nil {
		return nil, err
	}
	return &KeyringBackend{
		service:      keyringService,
		accountsPath: filepath.Join(configDir, "keyring_accounts.json"),
	}, nil
}

func (k *KeyringBackend) Backend() string { return "keyring" }

func (k *KeyringBackend) SetSecret(ctx context.Context, account string, secret *Secret) error {
	if err := keyring.Set(k.service, account, secret.String()); err != nil {
		return providererr.Wrap(providererr.IoError, "credstore", "keyring set failed", err)
	}
	return k.recordAccount(account)
}

func (k *KeyringBackend) GetSecret(ctx context.Context, account string) (*Secret, error) {
	v, err := keyring.Get(k.service, account)
	if err != nil {
		if err == keyring.ErrNotFound {
			return nil, providererr.New(providererr.NotFound, "credstore", "no secret for account "+account)
		}
		return nil, providererr.Wrap(providererr.IoError, "credstore", "keyring get failed", err)
	}
	return NewSecretFromString(v), nil
}

func (k *KeyringBackend) DeleteSecret(ctx context.Context, account string) error {
	err := keyring.Delete(k.service, account)
	if err != nil && err != keyring.ErrNotFound {
		return providererr.Wrap(providererr.IoError, "credstore", "keyring delete failed", err)
	}
	return k.forgetAccount(account)
}

func (k *KeyringBackend) ListAccounts(ctx context.Context) ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.readAccounts()
}

func (k *KeyringBackend) readAccounts() ([]string, error) {
	if k.accountsPath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(k.accountsPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, providererr.Wrap(providererr.IoError, "credstore", "read accounts side file", err)
	}
	var accounts []string
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, providererr.Wrap(providererr.ParseError, "credstore", "parse accounts side file", err)
	}
	return accounts, nil
}

func (k *KeyringBackend) writeAccounts(accounts []string) error {
	if k.accountsPath == "" {
		return nil
	}
	data, err := json.Marshal(accounts)
	if err != nil {
		return providererr.Wrap(providererr.Other, "credstore", "marshal accounts side file", err)
	}
	if err := os.WriteFile(k.accountsPath, data, 0o600); err != nil {
		return providererr.Wrap(providererr.IoError, "credstore", "write accounts side file", err)
	}
	return nil
}

func (k *KeyringBackend) recordAccount(account string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	accounts, err := k.readAccounts()
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a == account {
			return nil
		}
	}
	return k.writeAccounts(append(accounts, account))
}

func (k *KeyringBackend) forgetAccount(account string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	accounts, err := k.readAccounts()
	if err != nil {
		return err
	}
	out := accounts[:0]
	for _, a := range accounts {
		if a != account {
			out = append(out, a)
		}
	}
	return k.writeAccounts(out)
}

// hardenConfigDir ensures configDir exists and is owner-only on POSIX.
func hardenConfigDir(configDir string) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return providererr.Wrap(providererr.IoError, "credstore", "create config dir", err)
	}
	return os.Chmod(configDir, 0o700)
}
