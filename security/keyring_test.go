package security

import (
	"errors"
	"testing"
	"time"
)

func mustCipher(t *testing.T, material string) *SecretCipher {
	t.Helper()
	c, err := NewSecretCipher(material)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	return c
}

func TestKeyringCipher_DecryptsWithRetiredKey(t *testing.T) {
	old := mustCipher(t, "old-key")
	encrypted, err := old.EncryptSecret("s1")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var events []KeyringDiagnostic
	keyring, err := NewKeyringCipher(mustCipher(t, "new-key"),
		WithRetiredKey("old-key", KeyRotationWindow{}),
		WithKeyringDiagnostics(func(event KeyringDiagnostic) { events = append(events, event) }),
	)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	plaintext, err := keyring.DecryptSecret(encrypted)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plaintext != "s1" {
		t.Fatalf("expected s1, got %q", plaintext)
	}
	if len(events) != 1 || events[0].Outcome != "retired_key_used" || events[0].KeyIndex != 0 {
		t.Fatalf("unexpected diagnostics %+v", events)
	}

	fresh, err := keyring.EncryptSecret("s2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := old.DecryptSecret(fresh); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected new secrets to use the current key, got %v", err)
	}
}

func TestKeyringCipher_ClosedWindowRejectsRetiredKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	encrypted, _ := mustCipher(t, "old-key").EncryptSecret("s1")

	keyring, err := NewKeyringCipher(mustCipher(t, "new-key"),
		WithRetiredKey("old-key", KeyRotationWindow{NotAfter: now.Add(-time.Minute)}),
		WithKeyringClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	if _, err := keyring.DecryptSecret(encrypted); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("expected key mismatch after the window closed, got %v", err)
	}
}

func TestKeyringCipher_Reencrypt(t *testing.T) {
	encrypted, _ := mustCipher(t, "old-key").EncryptSecret("s1")
	current := mustCipher(t, "new-key")
	keyring, err := NewKeyringCipher(current, WithRetiredKey("old-key", KeyRotationWindow{}))
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	rewritten, changed, err := keyring.Reencrypt(encrypted)
	if err != nil || !changed {
		t.Fatalf("expected rewrite, changed=%v err=%v", changed, err)
	}
	if plaintext, err := current.DecryptSecret(rewritten); err != nil || plaintext != "s1" {
		t.Fatalf("expected current key to read rewritten value, got %q (%v)", plaintext, err)
	}
	if _, changed, _ := keyring.Reencrypt(rewritten); changed {
		t.Fatalf("expected current-key value to be left alone")
	}
	if value, changed, _ := keyring.Reencrypt("plain"); changed || value != "plain" {
		t.Fatalf("expected plaintext passthrough")
	}
}

func TestNewKeyringCipher_RejectsEmptyRetiredKey(t *testing.T) {
	if _, err := NewKeyringCipher(mustCipher(t, "k"), WithRetiredKey(" ", KeyRotationWindow{})); err == nil {
		t.Fatalf("expected empty retired key to be rejected")
	}
	if _, err := NewKeyringCipher(nil); err == nil {
		t.Fatalf("expected nil current cipher to be rejected")
	}
}

func TestKeyRotationWindow_Allows(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := KeyRotationWindow{NotBefore: now.Add(-time.Hour), NotAfter: now.Add(time.Hour)}
	if !window.Allows(now) {
		t.Fatalf("expected window to allow now")
	}
	if window.Allows(now.Add(2 * time.Hour)) {
		t.Fatalf("expected window to reject after NotAfter")
	}
	if !(KeyRotationWindow{}).Allows(now) {
		t.Fatalf("expected open window to allow any time")
	}
}
