package credential

import (
	"bytes"
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailpipe/internal/model"
)

func TestResolveVaultKeyPrefersConfig(t *testing.T) {
	want := bytes.Repeat([]byte{7}, MinKeySize)
	key, err := ResolveVaultKey(model.VaultConfig{Key: EncodeKey(want)}, func() (keyring.Keyring, error) {
		return nil, errors.New("keyring must not be opened")
	})
	require.NoError(t, err)
	assert.Equal(t, want, key)
}

func TestResolveVaultKeyRejectsShortConfigKey(t *testing.T) {
	_, err := ResolveVaultKey(model.VaultConfig{Key: EncodeKey([]byte("tiny"))}, nil)
	assert.Error(t, err)
}

func TestResolveVaultKeyFromKeyring(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	want := bytes.Repeat([]byte{9}, MinKeySize)
	require.NoError(t, StoreKey(ring, want))

	key, err := ResolveVaultKey(model.VaultConfig{}, func() (keyring.Keyring, error) { return ring, nil })
	require.NoError(t, err)
	assert.Equal(t, want, key)
}

func TestResolveVaultKeyGenerates(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	open := func() (keyring.Keyring, error) { return ring, nil }

	_, err := ResolveVaultKey(model.VaultConfig{}, open)
	assert.ErrorIs(t, err, ErrNoVaultKey)

	first, err := ResolveVaultKey(model.VaultConfig{Generate: true}, open)
	require.NoError(t, err)
	assert.Len(t, first, MinKeySize)

	// The generated key is persisted and reused.
	second, err := ResolveVaultKey(model.VaultConfig{}, open)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
