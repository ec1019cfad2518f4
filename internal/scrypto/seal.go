package scrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/faanross/hermnet/internal/spec"
)

const sealedHeaderSize = 4 + spec.SALT_SIZE

// DeriveKey generates an AES key from a passphrase using PBKDF2-SHA256.
func DeriveKey(passphrase, salt []byte) []byte {
	key := pbkdf2.Key(passphrase, salt, spec.PBKDF2_ITERS, spec.KEY_SIZE, sha256.New)

	logrus.WithFields(logrus.Fields{
		"function":    "scrypto.DeriveKey",
		"iterations":  spec.PBKDF2_ITERS,
		"salt_length": len(salt),
		"fingerprint": fmt.Sprintf("%X", key[:4]),
	}).Debug("Derived key from passphrase")

	return key
}

// SealPrivateKey encrypts key under passphrase for storage at rest.
//
// Layout: magic(4) || salt(32) || nonce(12) || ciphertext || tag(16).
// The magic header doubles as additional authenticated data.
func SealPrivateKey(key, passphrase []byte) ([]byte, error) {
	return sealPrivateKey(rand.Reader, key, passphrase)
}

func sealPrivateKey(random io.Reader, key, passphrase []byte) ([]byte, error) {
	if len(passphrase) < spec.MIN_PASSPHRASE {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakPassphrase, spec.MIN_PASSPHRASE)
	}

	header := make([]byte, sealedHeaderSize)
	binary.BigEndian.PutUint32(header[:4], spec.MAGIC_HEADER)
	if _, err := io.ReadFull(random, header[4:]); err != nil {
		return nil, fmt.Errorf("salt generation failed: %w", err)
	}

	derived := DeriveKey(passphrase, header[4:])
	sealed, err := sealAESGCM(random, derived, key, header[:4])
	if err != nil {
		return nil, err
	}

	return append(header, sealed...), nil
}

// OpenPrivateKey reverses SealPrivateKey. A wrong passphrase yields
// ErrDecryptionFailed.
func OpenPrivateKey(blob, passphrase []byte) ([]byte, error) {
	if len(blob) < 4 || binary.BigEndian.Uint32(blob[:4]) != spec.MAGIC_HEADER {
		return nil, ErrNotSealed
	}
	if len(blob) < sealedHeaderSize+spec.NONCE_SIZE+spec.TAG_SIZE {
		return nil, fmt.Errorf("%w: %d bytes", ErrCiphertextTooShort, len(blob))
	}

	derived := DeriveKey(passphrase, blob[4:sealedHeaderSize])
	return openAESGCM(derived, blob[sealedHeaderSize:], blob[:4])
}

// IsSealed reports whether blob carries the sealing magic header.
func IsSealed(blob []byte) bool {
	return len(blob) >= 4 && binary.BigEndian.Uint32(blob[:4]) == spec.MAGIC_HEADER
}
