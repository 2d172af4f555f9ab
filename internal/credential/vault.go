package credential

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	vaultVersion byte = 0x01
	vaultInfo         = "mailpipe vault v1"

	// MinKeySize is the minimum amount of key material accepted by NewVault.
	MinKeySize = 32
)

var encoding = base64.RawURLEncoding

// IntegrityError reports a ciphertext that this vault cannot open. The
// record it belongs to should be treated as corrupt, not retried.
type IntegrityError struct {
	Reason string
	Err    error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity: %s: %v", e.Reason, e.Err)
	}
	return "integrity: " + e.Reason
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// IsIntegrityError reports whether err is or wraps an *IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// Vault seals secrets with XChaCha20-Poly1305 under a key fixed at
// construction. It is safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// NewVault derives the cipher key from material with HKDF-SHA256.
func NewVault(material []byte) (*Vault, error) {
	if len(material) < MinKeySize {
		return nil, fmt.Errorf("vault key material must be at least %d bytes, got %d", MinKeySize, len(material))
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(vaultInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving vault key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// GenerateKey returns fresh random key material.
func GenerateKey() ([]byte, error) {
	key := make([]byte, MinKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating vault key: %w", err)
	}
	return key, nil
}

// Encrypt seals plain. A nil input returns nil.
func (v *Vault) Encrypt(plain *string) (*string, error) {
	if plain == nil {
		return nil, nil
	}
	sealed, err := v.EncryptString(*plain)
	if err != nil {
		return nil, err
	}
	return &sealed, nil
}

// Decrypt opens ciphertext produced by Encrypt. A nil input returns nil.
func (v *Vault) Decrypt(ciphertext *string) (*string, error) {
	if ciphertext == nil {
		return nil, nil
	}
	plain, err := v.DecryptString(*ciphertext)
	if err != nil {
		return nil, err
	}
	return &plain, nil
}

// EncryptString seals a non-optional value.
func (v *Vault) EncryptString(plain string) (string, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plain)+v.aead.Overhead())
	out = append(out, vaultVersion)
	out = append(out, nonce...)
	out = v.aead.Seal(out, nonce, []byte(plain), []byte{vaultVersion})

	return encoding.EncodeToString(out), nil
}

// DecryptString opens a non-optional value. Any failure is an *IntegrityError.
func (v *Vault) DecryptString(ciphertext string) (string, error) {
	raw, err := encoding.DecodeString(ciphertext)
	if err != nil {
		return "", &IntegrityError{Reason: "malformed encoding", Err: err}
	}
	if len(raw) < 1+chacha20poly1305.NonceSizeX+v.aead.Overhead() {
		return "", &IntegrityError{Reason: "ciphertext truncated"}
	}
	if raw[0] != vaultVersion {
		return "", &IntegrityError{Reason: fmt.Sprintf("unknown version %#x", raw[0])}
	}

	nonce := raw[1 : 1+chacha20poly1305.NonceSizeX]
	body := raw[1+chacha20poly1305.NonceSizeX:]

	plain, err := v.aead.Open(nil, nonce, body, []byte{vaultVersion})
	if err != nil {
		return "", &IntegrityError{Reason: "authentication failed", Err: err}
	}

	return string(plain), nil
}

// Reencrypt opens ciphertext with old and seals it under v.
func (v *Vault) Reencrypt(ciphertext *string, old *Vault) (*string, error) {
	plain, err := old.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}
	return v.Encrypt(plain)
}
