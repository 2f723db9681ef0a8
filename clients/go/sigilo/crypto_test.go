package sigilo

import (
	"encoding/base64"
	"testing"
)

func generateTestKeyPair(t *testing.T) *KeyPair {
	t.Helper()
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp
}

func TestSealOpenRoundTrip(t *testing.T) {
	alice := generateTestKeyPair(t)
	bob := generateTestKeyPair(t)

	ciphertext, nonce, err := alice.Seal("olá bob", bob.PublicKey())
	if err != nil {
		t.Fatal(err)
	}

	plaintext, err := bob.Open(ciphertext, nonce, alice.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	if plaintext != "olá bob" {
		t.Fatalf("expected 'olá bob', got %q", plaintext)
	}
}

func TestOpenWrongRecipientFails(t *testing.T) {
	alice := generateTestKeyPair(t)
	bob := generateTestKeyPair(t)
	eve := generateTestKeyPair(t)

	ciphertext, nonce, err := alice.Seal("só para o bob", bob.PublicKey())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := eve.Open(ciphertext, nonce, alice.PublicKey()); err == nil {
		t.Fatal("expected decryption to fail for the wrong recipient")
	} else if !IsCryptoError(err) {
		t.Fatalf("expected a CryptoError, got %v", err)
	}
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	alice := generateTestKeyPair(t)
	bob := generateTestKeyPair(t)

	ciphertext, nonce, err := alice.Seal("mensagem íntegra", bob.PublicKey())
	if err != nil {
		t.Fatal(err)
	}

	raw, _ := base64.StdEncoding.DecodeString(ciphertext)
	raw[0] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := bob.Open(tampered, nonce, alice.PublicKey()); err == nil {
		t.Fatal("expected decryption of tampered ciphertext to fail")
	}
}

func TestSealFreshNonces(t *testing.T) {
	alice := generateTestKeyPair(t)
	bob := generateTestKeyPair(t)

	ct1, n1, err := alice.Seal("same", bob.PublicKey())
	if err != nil {
		t.Fatal(err)
	}
	ct2, n2, err := alice.Seal("same", bob.PublicKey())
	if err != nil {
		t.Fatal(err)
	}

	if n1 == n2 {
		t.Fatal("nonces must be fresh per envelope")
	}
	if ct1 == ct2 {
		t.Fatal("ciphertexts should differ for the same plaintext")
	}
}

func TestSealInvalidRecipientKey(t *testing.T) {
	alice := generateTestKeyPair(t)

	if _, _, err := alice.Seal("x", "not-base64!!"); err == nil {
		t.Fatal("expected an error for a malformed recipient key")
	}
	if _, _, err := alice.Seal("x", base64.StdEncoding.EncodeToString([]byte("short"))); !IsCryptoError(err) {
		t.Fatalf("expected a CryptoError for a short key, got %v", err)
	}
}

func TestOpenInvalidNonceLength(t *testing.T) {
	alice := generateTestKeyPair(t)
	bob := generateTestKeyPair(t)

	ciphertext, _, err := alice.Seal("x", bob.PublicKey())
	if err != nil {
		t.Fatal(err)
	}

	badNonce := base64.StdEncoding.EncodeToString([]byte("too-short"))
	if _, err := bob.Open(ciphertext, badNonce, alice.PublicKey()); !IsCryptoError(err) {
		t.Fatalf("expected a CryptoError for a bad nonce, got %v", err)
	}
}
