package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "portal"

// Keys of the secrets the portal keeps in the keyring.
const (
	// KeyJWTSecret signs access tokens in `portal serve`.
	KeyJWTSecret = "jwt-secret"

	// KeyIMAPPassword authenticates the mail bridge.
	KeyIMAPPassword = "imap-password"

	// KeyAccessToken is the token a remote TUI presents to the server.
	KeyAccessToken = "access-token"
)

// ErrNotFound is returned when a secret is in neither the environment
// nor the keyring.
var ErrNotFound = errors.New("credential not found")

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	home, _ := os.UserHomeDir()
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(home, ".config", "portal", "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt("portal-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// EnvVar returns the environment variable that overrides key, e.g.
// PORTAL_JWT_SECRET for "jwt-secret".
func EnvVar(key string) string {
	return "PORTAL_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Lookup returns the secret for key, preferring the environment (so
// containers need no keyring) and falling back to the system keyring.
func Lookup(key string) (string, error) {
	if v := os.Getenv(EnvVar(key)); v != "" {
		return v, nil
	}

	v, err := Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", fmt.Errorf("%s (set %s or store it in the keyring): %w", key, EnvVar(key), ErrNotFound)
		}
		return "", err
	}
	return v, nil
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Label: "portal " + key,
		Data:  []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
