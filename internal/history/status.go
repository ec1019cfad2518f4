package history

import (
	"fmt"
	"strings"
)

// Status is the delivery state recorded with a message.
type Status uint8

const (
	// StatusPending means the message is queued locally and not yet sent.
	StatusPending Status = iota
	// StatusSent means the packet was handed to the transport.
	StatusSent
	// StatusDelivered means the packet was fetched and decrypted by its recipient.
	StatusDelivered
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusSent:      "SENT",
	StatusDelivered: "DELIVERED",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// ParseStatus converts a status name (case-insensitive) back to a Status.
func ParseStatus(name string) (Status, error) {
	for status, n := range statusNames {
		if strings.EqualFold(n, name) {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", name)
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	status, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}
