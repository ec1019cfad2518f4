package scrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
)

// RSAOAEP encrypts with RSA-OAEP-SHA256. Keys are PEM encoded: PKIX or
// PKCS#1 for public keys, PKCS#8 or PKCS#1 for private keys.
//
// The plaintext must fit in a single OAEP block (190 bytes for RSA-2048).
type RSAOAEP struct {
	random io.Reader
}

// NewRSAOAEP returns an RSA-OAEP provider reading randomness from crypto/rand.
func NewRSAOAEP() *RSAOAEP {
	return &RSAOAEP{random: rand.Reader}
}

// Name returns the provider name.
func (r *RSAOAEP) Name() string { return NameRSA }

// Encrypt seals plaintext to the PEM public key.
func (r *RSAOAEP) Encrypt(plaintext, publicKey []byte) ([]byte, error) {
	pub, err := ParseRSAPublicKey(publicKey)
	if err != nil {
		return nil, err
	}

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), r.random, pub, plaintext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa encryption failed: %w", err)
	}
	return ciphertext, nil
}

// Decrypt opens ciphertext with the PEM private key.
func (r *RSAOAEP) Decrypt(ciphertext, privateKey []byte) ([]byte, error) {
	priv, err := ParseRSAPrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) != priv.Size() {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrCiphertextTooShort, len(ciphertext), priv.Size())
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), nil, priv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// ParseRSAPublicKey decodes a PEM "PUBLIC KEY" or "RSA PUBLIC KEY" block.
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPublicKey)
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return pub, nil
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key (%T)", ErrInvalidPublicKey, parsed)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPublicKey, block.Type)
	}
}

// ParseRSAPrivateKey decodes a PEM "PRIVATE KEY" or "RSA PRIVATE KEY" block.
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidPrivateKey)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		return priv, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
		}
		priv, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an RSA key (%T)", ErrInvalidPrivateKey, parsed)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidPrivateKey, block.Type)
	}
}
