// Package directory resolves contact handles to public keys.
package directory

import (
	"errors"
	"fmt"

	"github.com/faanross/hermnet/internal/spec"
)

// ErrInvalidHandle is returned for empty handles or handles with characters
// outside [A-Za-z0-9_-].
var ErrInvalidHandle = errors.New("invalid handle")

// Contact is one entry of the key directory.
type Contact struct {
	Handle    string `json:"handle"`
	PublicKey []byte `json:"public_key"`
}

// CheckHandle validates a contact handle. Handles become DNS labels, so they
// are limited to letters, digits, hyphen and underscore.
func CheckHandle(handle string) error {
	if handle == "" {
		return fmt.Errorf("%w: handle cannot be empty", ErrInvalidHandle)
	}
	if len(handle) > 63 {
		return fmt.Errorf("%w: handle longer than 63 characters", ErrInvalidHandle)
	}
	for _, char := range handle {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("%w: invalid character %q in %q", ErrInvalidHandle, char, handle)
	}
	return nil
}

// KeyRecordName is the TXT name publishing handle's key: <handle>._hermkey.<domain>
func KeyRecordName(handle, domain string) string {
	return fmt.Sprintf("%s.%s.%s", handle, spec.KEY_RECORD_LABEL, domain)
}
