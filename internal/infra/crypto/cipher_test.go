package crypto

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	plaintexts := []string{
		"",
		"simple ascii",
		"spécial üñíçødè \U0001F511",
		strings.Repeat("x", 10_000),
	}
	for _, plaintext := range plaintexts {
		ciphertext, nonce, tag, err := Encrypt(key, []byte(plaintext))
		if err != nil {
			t.Fatalf("encrypt %q: %v", truncate(plaintext), err)
		}
		if len(nonce) != NonceLen {
			t.Fatalf("expected %d byte nonce, got %d", NonceLen, len(nonce))
		}
		if len(tag) != TagLen {
			t.Fatalf("expected %d byte tag, got %d", TagLen, len(tag))
		}
		out, err := Decrypt(key, ciphertext, nonce, tag)
		if err != nil {
			t.Fatalf("decrypt %q: %v", truncate(plaintext), err)
		}
		if string(out) != plaintext {
			t.Fatalf("round trip mismatch for %q", truncate(plaintext))
		}
	}
}

func TestEncryptFreshNoncePerCall(t *testing.T) {
	key := testKey(t)
	seen := make(map[string]bool)

	for i := 0; i < 50; i++ {
		_, nonce, _, err := Encrypt(key, []byte("same plaintext"))
		if err != nil {
			t.Fatalf("encrypt: %v", err)
		}
		if seen[string(nonce)] {
			t.Fatalf("nonce repeated after %d encryptions", i)
		}
		seen[string(nonce)] = true
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key := testKey(t)
	ciphertext, nonce, tag, err := Encrypt(key, []byte("the secret payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	flip := func(src []byte, i int) []byte {
		out := bytes.Clone(src)
		out[i] ^= 0x01
		return out
	}

	for i := range ciphertext {
		if _, err := Decrypt(key, flip(ciphertext, i), nonce, tag); err == nil {
			t.Fatalf("expected failure for ciphertext byte %d", i)
		}
	}
	for i := range nonce {
		if _, err := Decrypt(key, ciphertext, flip(nonce, i), tag); err == nil {
			t.Fatalf("expected failure for nonce byte %d", i)
		}
	}
	for i := range tag {
		if _, err := Decrypt(key, ciphertext, nonce, flip(tag, i)); err == nil {
			t.Fatalf("expected failure for tag byte %d", i)
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key := testKey(t)
	ciphertext, nonce, tag, err := Encrypt(key, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(testKey(t), ciphertext, nonce, tag); err == nil {
		t.Fatalf("expected failure under a different key")
	}
}

func TestEncryptRejectsShortKey(t *testing.T) {
	if _, _, _, err := Encrypt(make([]byte, 16), []byte("payload")); err == nil {
		t.Fatalf("expected failure for non-256-bit key")
	}
}

func TestDeriveKeyDeterministicPerKeyID(t *testing.T) {
	secret := []byte("master-secret")

	first := DeriveKey(secret, "key_a")
	second := DeriveKey(secret, "key_a")
	if !bytes.Equal(first, second) {
		t.Fatalf("expected identical derivation for same id")
	}
	if len(first) != KeyLen {
		t.Fatalf("expected %d byte key, got %d", KeyLen, len(first))
	}

	other := DeriveKey(secret, "key_b")
	if bytes.Equal(first, other) {
		t.Fatalf("expected distinct keys for distinct ids")
	}

	otherSecret := DeriveKey([]byte("different-secret"), "key_a")
	if bytes.Equal(first, otherSecret) {
		t.Fatalf("expected distinct keys for distinct secrets")
	}
}

func truncate(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
