package signing

import (
	"testing"
)

func TestCanonicalBody_IsKeyOrderIndependent(t *testing.T) {
	left, err := CanonicalBody(map[string]any{"z": 1, "a": 2})
	if err != nil {
		t.Fatalf("canonical body: %v", err)
	}
	right, err := CanonicalBody(map[string]any{"a": 2, "z": 1})
	if err != nil {
		t.Fatalf("canonical body: %v", err)
	}
	if string(left) != string(right) {
		t.Fatalf("expected equal canonical bodies, got %s and %s", left, right)
	}
	if string(left) != `{"a":2,"z":1}` {
		t.Fatalf("unexpected canonical body %s", left)
	}
}

func TestCanonicalBody_SortsNestedKeysAndKeepsArrayOrder(t *testing.T) {
	type line struct {
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
	}
	body, err := CanonicalBody(map[string]any{
		"order": map[string]any{
			"lines": []line{{SKU: "b", Qty: 1}, {SKU: "a", Qty: 2}},
			"id":    "o1",
		},
		"note": "<tag> & more",
	})
	if err != nil {
		t.Fatalf("canonical body: %v", err)
	}
	want := `{"note":"<tag> & more","order":{"id":"o1","lines":[{"qty":1,"sku":"b"},{"qty":2,"sku":"a"}]}}`
	if string(body) != want {
		t.Fatalf("expected %s, got %s", want, body)
	}
}

func TestCanonicalBody_PreservesLargeIntegers(t *testing.T) {
	body, err := CanonicalBody(map[string]any{"id": int64(9007199254740993)})
	if err != nil {
		t.Fatalf("canonical body: %v", err)
	}
	if string(body) != `{"id":9007199254740993}` {
		t.Fatalf("expected integer precision to survive, got %s", body)
	}
}

func TestCanonicalBody_RejectsUnencodableValues(t *testing.T) {
	if _, err := CanonicalBody(map[string]any{"fn": func() {}}); err == nil {
		t.Fatalf("expected encode error")
	}
}

func TestSign_DeterministicAndSensitive(t *testing.T) {
	payload := map[string]any{"id": "o1"}
	first, err := Sign("s1", payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	second, err := Sign("s1", map[string]any{"id": "o1"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable signature")
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256 signature, got %q", first)
	}

	otherSecret, _ := Sign("s2", payload)
	if otherSecret == first {
		t.Fatalf("expected signature to change with secret")
	}
	otherPayload, _ := Sign("s1", map[string]any{"id": "o2"})
	if otherPayload == first {
		t.Fatalf("expected signature to change with payload")
	}
}

func TestVerify_RejectsMalformedInput(t *testing.T) {
	payload := map[string]any{"id": "o1"}
	signature, err := Sign("s1", payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !Verify("s1", payload, signature) {
		t.Fatalf("expected signature to verify")
	}
	cases := []string{"", "not-hex", signature[:10], signature + "00"}
	for _, candidate := range cases {
		if Verify("s1", payload, candidate) {
			t.Fatalf("expected %q to be rejected", candidate)
		}
	}
	if Verify("s1", map[string]any{"fn": func() {}}, signature) {
		t.Fatalf("expected unencodable payload to be rejected")
	}
}

func TestVerifyAny_SupportsRotation(t *testing.T) {
	payload := map[string]any{"id": "o1"}
	oldSignature, _ := Sign("old", payload)
	newSignature, _ := Sign("new", payload)
	unrelated, _ := Sign("unrelated", payload)

	secrets := []string{"new", "old"}
	if !VerifyAny(secrets, payload, oldSignature) {
		t.Fatalf("expected old signature to verify during rotation")
	}
	if !VerifyAny(secrets, payload, newSignature) {
		t.Fatalf("expected new signature to verify")
	}
	if VerifyAny(secrets, payload, unrelated) {
		t.Fatalf("expected unrelated signature to be rejected")
	}
	if VerifyAny(nil, payload, newSignature) {
		t.Fatalf("expected empty secret list to reject")
	}
}
