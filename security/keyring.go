package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-outbound/core"
)

// KeyRotationWindow bounds when a retired key may still decrypt. Zero values
// leave that side open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	at = at.UTC()
	if !w.NotBefore.IsZero() && at.Before(w.NotBefore) {
		return false
	}
	return w.NotAfter.IsZero() || !at.After(w.NotAfter)
}

// KeyringDiagnostic reports fallback decrypts. KeyIndex is the position of
// the retired key that answered, or -1.
type KeyringDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	Outcome    string
	KeyIndex   int
	Error      string
}

type KeyringDiagnosticHook func(event KeyringDiagnostic)

type KeyringOption func(*KeyringCipher)

type retiredKey struct {
	material string
	window   KeyRotationWindow
	cipher   *SecretCipher
}

// KeyringCipher encrypts with the current key and decrypts with the current
// key first, then with any retired key whose rotation window is still open.
type KeyringCipher struct {
	current        *SecretCipher
	retired        []retiredKey
	diagnosticHook KeyringDiagnosticHook
	now            func() time.Time
}

func WithRetiredKey(material string, window KeyRotationWindow) KeyringOption {
	return func(k *KeyringCipher) {
		k.retired = append(k.retired, retiredKey{material: material, window: window})
	}
}

func WithKeyringDiagnostics(hook KeyringDiagnosticHook) KeyringOption {
	return func(k *KeyringCipher) {
		k.diagnosticHook = hook
	}
}

func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(k *KeyringCipher) {
		if now != nil {
			k.now = now
		}
	}
}

func NewKeyringCipher(current *SecretCipher, opts ...KeyringOption) (*KeyringCipher, error) {
	if current == nil {
		return nil, fmt.Errorf("security: current secret cipher is required")
	}
	k := &KeyringCipher{
		current: current,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(k)
	}
	for idx := range k.retired {
		if strings.TrimSpace(k.retired[idx].material) == "" {
			return nil, fmt.Errorf("security: retired key %d is empty", idx)
		}
		c, err := NewSecretCipher(k.retired[idx].material)
		if err != nil {
			return nil, fmt.Errorf("security: retired key %d: %w", idx, err)
		}
		k.retired[idx].cipher = c
		k.retired[idx].material = ""
	}
	return k, nil
}

func (k *KeyringCipher) EncryptSecret(plaintext string) (string, error) {
	if k == nil {
		return "", fmt.Errorf("security: keyring cipher is nil")
	}
	return k.current.EncryptSecret(plaintext)
}

func (k *KeyringCipher) DecryptSecret(value string) (string, error) {
	if k == nil {
		return "", fmt.Errorf("security: keyring cipher is nil")
	}
	plaintext, err := k.current.DecryptSecret(value)
	if err == nil || !errors.Is(err, ErrKeyMismatch) {
		return plaintext, err
	}

	now := k.now()
	for idx, key := range k.retired {
		if !key.window.Allows(now) {
			continue
		}
		plaintext, retiredErr := key.cipher.DecryptSecret(value)
		if retiredErr == nil {
			k.emit("decrypt", "retired_key_used", idx, nil)
			return plaintext, nil
		}
	}
	k.emit("decrypt", "no_key_matched", -1, err)
	return "", ErrKeyMismatch
}

func (k *KeyringCipher) IsEncrypted(value string) bool {
	return IsEncrypted(value)
}

// Reencrypt rewrites value under the current key. The bool reports whether
// value was readable only with a retired key.
func (k *KeyringCipher) Reencrypt(value string) (string, bool, error) {
	if !IsEncrypted(value) {
		return value, false, nil
	}
	if _, err := k.current.DecryptSecret(value); err == nil {
		return value, false, nil
	}
	plaintext, err := k.DecryptSecret(value)
	if err != nil {
		return "", false, err
	}
	rewritten, err := k.EncryptSecret(plaintext)
	if err != nil {
		return "", false, err
	}
	return rewritten, true, nil
}

func (k *KeyringCipher) emit(operation, outcome string, keyIndex int, err error) {
	if k.diagnosticHook == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	k.diagnosticHook(KeyringDiagnostic{
		OccurredAt: k.now().UTC(),
		Operation:  operation,
		Outcome:    outcome,
		KeyIndex:   keyIndex,
		Error:      msg,
	})
}

var _ core.SecretCipher = (*KeyringCipher)(nil)
