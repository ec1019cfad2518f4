package scrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"

	"github.com/faanross/hermnet/internal/spec"
)

// HKDFContext separates hermnet message keys from other uses of the same
// KEM shared secret.
const HKDFContext = "hermnet:message:v1"

// MLKEM encrypts with ML-KEM-768 key encapsulation, HKDF-SHA-512 and
// AES-256-GCM.
//
// Ciphertext layout: ct_kem(1088) || nonce(12) || aead ciphertext || tag(16).
// Public keys are 1184 raw bytes, private keys 2400.
type MLKEM struct {
	random io.Reader
}

// NewMLKEM returns an ML-KEM provider reading randomness from crypto/rand.
func NewMLKEM() *MLKEM {
	return &MLKEM{random: rand.Reader}
}

// Name returns the provider name.
func (m *MLKEM) Name() string { return NameMLKEM }

// Encrypt encapsulates a fresh shared secret to publicKey and seals
// plaintext under the derived key.
func (m *MLKEM) Encrypt(plaintext, publicKey []byte) ([]byte, error) {
	if len(publicKey) != mlkem768.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPublicKey, len(publicKey), mlkem768.PublicKeySize)
	}

	scheme := mlkem768.Scheme()
	pub, err := scheme.UnmarshalBinaryPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}

	seed := make([]byte, scheme.EncapsulationSeedSize())
	if _, err := io.ReadFull(m.random, seed); err != nil {
		return nil, fmt.Errorf("seed generation failed: %w", err)
	}

	ctKem, sharedSecret, err := scheme.EncapsulateDeterministically(pub, seed)
	if err != nil {
		return nil, fmt.Errorf("encapsulation failed: %w", err)
	}

	key, err := deriveMessageKey(sharedSecret, ctKem)
	if err != nil {
		return nil, err
	}

	sealed, err := sealAESGCM(m.random, key, plaintext, nil)
	if err != nil {
		return nil, err
	}

	return append(ctKem, sealed...), nil
}

// Decrypt decapsulates the shared secret with privateKey and opens the
// AEAD section.
func (m *MLKEM) Decrypt(ciphertext, privateKey []byte) ([]byte, error) {
	if len(privateKey) != mlkem768.PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidPrivateKey, len(privateKey), mlkem768.PrivateKeySize)
	}
	if len(ciphertext) < mlkem768.CiphertextSize+spec.NONCE_SIZE+spec.TAG_SIZE {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(ciphertext))
	}

	scheme := mlkem768.Scheme()
	priv, err := scheme.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}

	ctKem := ciphertext[:mlkem768.CiphertextSize]
	sharedSecret, err := scheme.Decapsulate(priv, ctKem)
	if err != nil {
		return nil, fmt.Errorf("decapsulation failed: %w", err)
	}

	key, err := deriveMessageKey(sharedSecret, ctKem)
	if err != nil {
		return nil, err
	}

	return openAESGCM(key, ciphertext[mlkem768.CiphertextSize:], nil)
}

// deriveMessageKey runs HKDF-SHA-512 with salt = SHA-256(ct_kem).
func deriveMessageKey(sharedSecret, ctKem []byte) ([]byte, error) {
	salt := sha256.Sum256(ctKem)

	reader := hkdf.New(sha512.New, sharedSecret, salt[:], []byte(HKDFContext))
	key := make([]byte, spec.KEY_SIZE)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return key, nil
}
