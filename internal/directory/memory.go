package directory

import (
	"context"
	"sort"
	"sync"
)

// Memory is a map-backed directory.
type Memory struct {
	keys map[string][]byte
	mu   sync.RWMutex
}

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{keys: make(map[string][]byte)}
}

// Add registers or replaces handle's key.
func (m *Memory) Add(handle string, publicKey []byte) error {
	if err := CheckHandle(handle); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[handle] = append([]byte(nil), publicKey...)
	return nil
}

// LookupPublicKey returns a copy of handle's key.
func (m *Memory) LookupPublicKey(ctx context.Context, handle string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := CheckHandle(handle); err != nil {
		return nil, false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.keys[handle]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), key...), true, nil
}

// Contacts lists all entries sorted by handle.
func (m *Memory) Contacts() []Contact {
	m.mu.RLock()
	defer m.mu.RUnlock()

	contacts := make([]Contact, 0, len(m.keys))
	for handle, key := range m.keys {
		contacts = append(contacts, Contact{Handle: handle, PublicKey: append([]byte(nil), key...)})
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].Handle < contacts[j].Handle })
	return contacts
}
