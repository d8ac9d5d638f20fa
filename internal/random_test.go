package internal

import (
	"bytes"
	"testing"
)

func TestTokenEncodeDecodeRoundTrip(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID failed: %v", err)
	}
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	token := EncodeToken(id, secret)

	gotID, gotSecret, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken failed: %v", err)
	}
	if gotID != id {
		t.Fatal("token id mismatch after round trip")
	}
	if gotSecret != secret {
		t.Fatal("secret mismatch after round trip")
	}
}

func TestDecodeTokenRejectsBadInput(t *testing.T) {
	cases := []string{
		"",
		"not base64url!!",
		"c2hvcnQ", // valid encoding, wrong length
	}
	for _, token := range cases {
		if _, _, err := DecodeToken(token); err == nil {
			t.Errorf("expected error for %q", token)
		}
	}
}

func TestParseTokenID(t *testing.T) {
	id, err := NewTokenID()
	if err != nil {
		t.Fatalf("NewTokenID failed: %v", err)
	}

	parsed, err := ParseTokenID(id.String())
	if err != nil {
		t.Fatalf("ParseTokenID failed: %v", err)
	}
	if parsed != id {
		t.Fatal("token id mismatch after parse")
	}

	if _, err := ParseTokenID("dG9vLXNob3J0"); err == nil {
		t.Fatal("expected error for wrong-size id")
	}
}

func TestHashSecretStable(t *testing.T) {
	secret, err := NewSecret()
	if err != nil {
		t.Fatalf("NewSecret failed: %v", err)
	}

	h1 := HashSecret(secret)
	h2 := HashSecretBytes(secret[:])
	if h1 != h2 {
		t.Fatal("expected array and slice hashing to agree")
	}
	if bytes.Equal(h1[:], secret[:]) {
		t.Fatal("hash must not equal the secret")
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if len(a) != 32 || len(b) != 32 {
		t.Fatalf("unexpected lengths %d/%d", len(a), len(b))
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct random draws")
	}
}
