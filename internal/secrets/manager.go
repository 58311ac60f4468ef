// Package secrets stores node API tokens in the OS keyring, one per CLI context.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/99designs/keyring"
)

// ServiceName identifies our keyring namespace.
const ServiceName = "kolibri"

const tokenPrefix = "token:"

// ErrNotFound indicates no token is stored for the requested context.
var ErrNotFound = errors.New("token not found")

// Options configure the keyring backends.
type Options struct {
	// FileDir enables the encrypted file backend as a last resort.
	FileDir string
	// FilePassword unlocks the file backend. Empty disables it.
	FilePassword string
}

// Manager wraps keyring access for CLI contexts.
type Manager struct {
	ring keyring.Keyring
}

// NewManager constructs a Manager over an already opened keyring.
func NewManager(ring keyring.Keyring) *Manager {
	return &Manager{ring: ring}
}

// Open opens the OS keyring, falling back to an encrypted file when a
// password is configured.
func Open(opts Options) (*Manager, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.WinCredBackend,
		keyring.SecretServiceBackend,
		keyring.KWalletBackend,
		keyring.PassBackend,
	}
	cfg := keyring.Config{
		ServiceName:   ServiceName,
		PassPrefix:    ServiceName,
		WinCredPrefix: ServiceName,
	}
	if opts.FileDir != "" && opts.FilePassword != "" {
		backends = append(backends, keyring.FileBackend)
		cfg.FileDir = filepath.Join(opts.FileDir, "keyring")
		password := opts.FilePassword
		cfg.FilePasswordFunc = func(string) (string, error) { return password, nil }
	}
	cfg.AllowedBackends = backends

	ring, err := keyring.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return NewManager(ring), nil
}

// OptionsFromEnv reads KOLIBRI_KEYRING_PASSWORD for the file backend.
func OptionsFromEnv(stateDir string) Options {
	return Options{FileDir: stateDir, FilePassword: os.Getenv("KOLIBRI_KEYRING_PASSWORD")}
}

// SetToken stores the token for a context.
func (m *Manager) SetToken(contextName, token string) error {
	if strings.TrimSpace(contextName) == "" {
		return errors.New("context name required")
	}
	if strings.TrimSpace(token) == "" {
		return errors.New("token required")
	}
	return m.ring.Set(keyring.Item{
		Key:         tokenPrefix + contextName,
		Data:        []byte(token),
		Label:       fmt.Sprintf("Kolibri token (%s)", contextName),
		Description: "Kolibri node API token",
	})
}

// Token returns the token stored for a context.
func (m *Manager) Token(contextName string) (string, error) {
	item, err := m.ring.Get(tokenPrefix + contextName)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// DeleteToken removes the token for a context.
func (m *Manager) DeleteToken(contextName string) error {
	if _, err := m.Token(contextName); err != nil {
		return err
	}
	return m.ring.Remove(tokenPrefix + contextName)
}

// Contexts lists the contexts that have a stored token.
func (m *Manager) Contexts() ([]string, error) {
	keys, err := m.ring.Keys()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, key := range keys {
		if name, ok := strings.CutPrefix(key, tokenPrefix); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
