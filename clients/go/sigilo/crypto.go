package sigilo

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const nonceSize = 24

// DecryptFailedPlaceholder is the text rendered in place of a message that
// could not be decrypted (wrong key, tampered ciphertext).
const DecryptFailedPlaceholder = "(não foi possível decifrar)"

// CryptoError represents an encryption/decryption error.
type CryptoError struct {
	Message string
}

func (e *CryptoError) Error() string {
	return e.Message
}

// IsCryptoError checks if an error is a CryptoError.
func IsCryptoError(err error) bool {
	var ce *CryptoError
	return errors.As(err, &ce)
}

// KeyPair is an ephemeral NaCl box keypair. A fresh pair is generated per
// connection and never persisted; the public half is published to room
// members through membership snapshots.
type KeyPair struct {
	public  *[32]byte
	private *[32]byte
}

// GenerateKeyPair creates a fresh NaCl box keypair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{public: pub, private: priv}, nil
}

// PublicKey returns the base64 encoding of the public key, the form carried
// on the wire.
func (kp *KeyPair) PublicKey() string {
	return base64.StdEncoding.EncodeToString(kp.public[:])
}

// Seal encrypts a message for one recipient with box (X25519 + XSalsa20 +
// Poly1305) under a random nonce. It returns the base64 ciphertext and nonce
// carried inside an envelope.
func (kp *KeyPair) Seal(plaintext, recipientPublicKeyB64 string) (ciphertextB64, nonceB64 string, err error) {
	recipientKey, err := decodeKey(recipientPublicKeyB64)
	if err != nil {
		return "", "", err
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", "", err
	}

	sealed := box.Seal(nil, []byte(plaintext), &nonce, recipientKey, kp.private)

	return base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce[:]),
		nil
}

// Open decrypts an envelope sealed for this keypair by the holder of the
// given sender public key. Authentication failure is a CryptoError.
func (kp *KeyPair) Open(ciphertextB64, nonceB64, senderPublicKeyB64 string) (string, error) {
	senderKey, err := decodeKey(senderPublicKeyB64)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", &CryptoError{Message: fmt.Sprintf("invalid base64 ciphertext: %v", err)}
	}

	nonceBytes, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil {
		return "", &CryptoError{Message: fmt.Sprintf("invalid base64 nonce: %v", err)}
	}
	if len(nonceBytes) != nonceSize {
		return "", &CryptoError{Message: fmt.Sprintf("invalid nonce length: %d, expected %d", len(nonceBytes), nonceSize)}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], nonceBytes)

	plaintext, ok := box.Open(nil, ciphertext, &nonce, senderKey, kp.private)
	if !ok {
		return "", &CryptoError{Message: "decryption failed: wrong key or tampered ciphertext"}
	}
	return string(plaintext), nil
}

func decodeKey(keyB64 string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, &CryptoError{Message: fmt.Sprintf("invalid base64 public key: %v", err)}
	}
	if len(raw) != 32 {
		return nil, &CryptoError{Message: fmt.Sprintf("invalid public key length: %d, expected 32", len(raw))}
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
