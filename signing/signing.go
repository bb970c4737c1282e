// Package signing produces the canonical request body and HMAC-SHA256
// signatures attached to outbound webhook deliveries.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	Algorithm     = "hmac-sha256"
	SchemaVersion = "v1"
)

// CanonicalBody serializes payload with object keys sorted at every level, no
// insignificant whitespace and arrays kept in order.
func CanonicalBody(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signing: encode payload: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var normalized any
	if err := decoder.Decode(&normalized); err != nil {
		return nil, fmt.Errorf("signing: normalize payload: %w", err)
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(normalized); err != nil {
		return nil, fmt.Errorf("signing: encode canonical body: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func Sign(secret string, payload any) (string, error) {
	body, err := CanonicalBody(payload)
	if err != nil {
		return "", err
	}
	return SignBody(secret, body), nil
}

// SignBody signs bytes that are already canonical.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func Verify(secret string, payload any, signature string) bool {
	body, err := CanonicalBody(payload)
	if err != nil {
		return false
	}
	return VerifyBody(secret, body, signature)
}

func VerifyBody(secret string, body []byte, signature string) bool {
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return subtle.ConstantTimeCompare(provided, mac.Sum(nil)) == 1
}

// VerifyAny accepts a signature produced by any of secrets, which lets a
// receiver trust both the old and new secret during a rotation window.
func VerifyAny(secrets []string, payload any, signature string) bool {
	body, err := CanonicalBody(payload)
	if err != nil {
		return false
	}
	matched := false
	for _, secret := range secrets {
		if VerifyBody(secret, body, signature) {
			matched = true
		}
	}
	return matched
}
