package scrypto

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// Curve25519 key size for SealedBox keys.
const boxKeySize = 32

// SealedBox encrypts with NaCl anonymous sealed boxes. Public and private
// keys are raw 32-byte Curve25519 values; the public key is recomputed from
// the private key when opening.
type SealedBox struct {
	random io.Reader
}

// NewSealedBox returns a sealed-box provider reading randomness from crypto/rand.
func NewSealedBox() *SealedBox {
	return &SealedBox{random: rand.Reader}
}

// Name returns the provider name.
func (s *SealedBox) Name() string { return NameSealedBox }

// Encrypt seals plaintext with an ephemeral sender key.
func (s *SealedBox) Encrypt(plaintext, publicKey []byte) ([]byte, error) {
	if len(publicKey) != boxKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(publicKey), boxKeySize)
	}

	var recipient [boxKeySize]byte
	copy(recipient[:], publicKey)

	sealed, err := box.SealAnonymous(nil, plaintext, &recipient, s.random)
	if err != nil {
		return nil, fmt.Errorf("box seal failed: %w", err)
	}
	return sealed, nil
}

// Decrypt opens a sealed box with privateKey.
func (s *SealedBox) Decrypt(ciphertext, privateKey []byte) ([]byte, error) {
	if len(privateKey) != boxKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(privateKey), boxKeySize)
	}
	if len(ciphertext) < box.AnonymousOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(ciphertext))
	}

	pubBytes, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	var priv, pub [boxKeySize]byte
	copy(priv[:], privateKey)
	copy(pub[:], pubBytes)

	plaintext, ok := box.OpenAnonymous(nil, ciphertext, &pub, &priv)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
