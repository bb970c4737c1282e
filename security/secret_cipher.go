// Package security encrypts webhook secrets at rest with AES-256-GCM behind a
// versioned "enc:v1:" prefix.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-outbound/core"
)

const (
	PrefixV1 = "enc:v1:"
	keySize  = 32
)

var (
	ErrMissingKey          = errors.New("security: encryption key material is required")
	ErrKeyMismatch         = errors.New("security: secret cannot be decrypted with the configured key")
	ErrMalformedCiphertext = errors.New("security: malformed encrypted secret")
)

type SecretCipher struct {
	aead      cipher.AEAD
	ephemeral bool
}

// NewSecretCipher derives the key once from keyMaterial and keeps the AEAD for
// the lifetime of the cipher.
func NewSecretCipher(keyMaterial string) (*SecretCipher, error) {
	if strings.TrimSpace(keyMaterial) == "" {
		return nil, ErrMissingKey
	}
	return newSecretCipher(DeriveKey(keyMaterial), false)
}

// NewSecretCipherFromConfig fails in strict mode when no key is configured. In
// non-strict mode it falls back to a random per-process key, so secrets
// encrypted by this process cannot be read after a restart.
func NewSecretCipherFromConfig(keyMaterial string, strict bool, logger glog.Logger) (*SecretCipher, error) {
	if strings.TrimSpace(keyMaterial) != "" {
		return NewSecretCipher(keyMaterial)
	}
	if strict {
		return nil, core.WrapError(ErrMissingKey, goerrors.CategoryValidation, core.ErrorConfigInvalid, "encryption key is required in strict mode")
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("security: ephemeral key generation failed: %w", err)
	}
	glog.Ensure(logger).Warn("no encryption key configured, using ephemeral key",
		"strict", strict,
	)
	return newSecretCipher(key, true)
}

func newSecretCipher(key []byte, ephemeral bool) (*SecretCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return &SecretCipher{aead: gcm, ephemeral: ephemeral}, nil
}

// DeriveKey uses material directly when it is already a 32 byte key, raw or
// base64 encoded, and hashes it with sha256 otherwise.
func DeriveKey(material string) []byte {
	if len(material) == keySize {
		key := make([]byte, keySize)
		copy(key, material)
		return key
	}
	trimmed := strings.TrimSpace(material)
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err := encoding.DecodeString(trimmed); err == nil && len(decoded) == keySize {
			return decoded
		}
	}
	sum := sha256.Sum256([]byte(material))
	key := make([]byte, keySize)
	copy(key, sum[:])
	return key
}

func (c *SecretCipher) Ephemeral() bool {
	return c != nil && c.ephemeral
}

func (c *SecretCipher) EncryptSecret(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("security: secret cipher is not configured")
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return PrefixV1 + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptSecret returns values without the prefix unchanged.
func (c *SecretCipher) DecryptSecret(value string) (string, error) {
	if !IsEncrypted(value) {
		return value, nil
	}
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("security: secret cipher is not configured")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, PrefixV1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: payload too short", ErrMalformedCiphertext)
	}
	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrKeyMismatch
	}
	return string(plaintext), nil
}

func (c *SecretCipher) IsEncrypted(value string) bool {
	return IsEncrypted(value)
}

func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, PrefixV1)
}

var _ core.SecretCipher = (*SecretCipher)(nil)
