package credential

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/nhle/mailpipe/internal/model"
)

const (
	serviceName  = "mailpipe"
	vaultKeyItem = "vault-key"
)

// ErrNoVaultKey is returned when no key is configured and generation is off.
var ErrNoVaultKey = errors.New("no vault key configured: set MAILPIPE_VAULT_KEY or vault.generate")

// OpenKeyring returns the OS keyring holding mailpipe secrets.
func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailpipe/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailpipe-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// ResolveVaultKey finds the vault key material. The configured key wins;
// otherwise the keyring is consulted, and a new key is generated and
// stored there when cfg.Generate is set. open is only called when the
// config does not carry a key.
func ResolveVaultKey(cfg model.VaultConfig, open func() (keyring.Keyring, error)) ([]byte, error) {
	if cfg.Key != "" {
		key, err := DecodeKey(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("decoding vault.key: %w", err)
		}
		return key, nil
	}

	ring, err := open()
	if err != nil {
		return nil, err
	}

	key, err := loadKey(ring)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, err
	}
	if !cfg.Generate {
		return nil, ErrNoVaultKey
	}

	key, err = GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := StoreKey(ring, key); err != nil {
		return nil, err
	}
	return key, nil
}

// StoreKey saves key material in the keyring, replacing any previous key.
func StoreKey(ring keyring.Keyring, key []byte) error {
	err := ring.Set(keyring.Item{
		Key:   vaultKeyItem,
		Data:  []byte(EncodeKey(key)),
		Label: "mailpipe token vault key",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", vaultKeyItem, err)
	}
	return nil
}

func loadKey(ring keyring.Keyring) ([]byte, error) {
	item, err := ring.Get(vaultKeyItem)
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", vaultKeyItem, err)
	}
	key, err := DecodeKey(string(item.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding credential %q: %w", vaultKeyItem, err)
	}
	return key, nil
}

// EncodeKey renders key material for config files and env vars.
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses key material written by EncodeKey.
func DecodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) < MinKeySize {
		return nil, fmt.Errorf("key is %d bytes, need at least %d", len(key), MinKeySize)
	}
	return key, nil
}
