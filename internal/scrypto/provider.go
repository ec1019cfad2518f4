// Package scrypto holds the asymmetric encryption schemes a message can be
// sealed with, plus passphrase protection for private keys kept on disk.
package scrypto

import (
	"fmt"
	"strings"
)

// Provider encrypts for a recipient's public key and decrypts with the
// matching private key. Keys are opaque byte strings whose encoding is
// defined by each scheme.
type Provider interface {
	Name() string
	Encrypt(plaintext, publicKey []byte) ([]byte, error)
	Decrypt(ciphertext, privateKey []byte) ([]byte, error)
}

// Provider names accepted by NewProvider.
const (
	NameMLKEM     = "mlkem"
	NameRSA       = "rsa"
	NameSealedBox = "box"
)

// NewProvider returns the scheme registered under name. An empty name
// selects ML-KEM.
func NewProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameMLKEM:
		return NewMLKEM(), nil
	case NameRSA:
		return NewRSAOAEP(), nil
	case NameSealedBox:
		return NewSealedBox(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}
