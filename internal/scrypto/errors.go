package scrypto

import "errors"

var (
	// ErrDecryptionFailed is returned when a ciphertext does not authenticate
	// under the supplied private key.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidPublicKey is returned when a public key cannot be parsed.
	ErrInvalidPublicKey = errors.New("invalid public key")

	// ErrInvalidPrivateKey is returned when a private key cannot be parsed.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrCiphertextTooShort is returned when a ciphertext is smaller than the
	// fixed overhead of its scheme.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrUnknownProvider is returned by NewProvider for unsupported names.
	ErrUnknownProvider = errors.New("unknown crypto provider")

	// ErrNotSealed is returned when a key blob lacks the sealing magic header.
	ErrNotSealed = errors.New("blob is not a sealed key")

	// ErrWeakPassphrase is returned for passphrases shorter than the minimum.
	ErrWeakPassphrase = errors.New("passphrase too short")
)
