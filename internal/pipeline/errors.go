package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRecipientKeyNotFound is returned by SendMessage before any crypto,
// transport or history call when the directory has no key for the handle.
var ErrRecipientKeyNotFound = errors.New("recipient key not found")

// PacketError reports a fetched packet that could not be decoded.
type PacketError struct {
	Index int // position in fetch order
	Err   error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("packet %d: %v", e.Index, e.Err)
}

func (e *PacketError) Unwrap() error { return e.Err }

// InboxError collects the packets skipped under SkipFailed.
type InboxError struct {
	Failures []*PacketError
}

func (e *InboxError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d packets failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (e *InboxError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
