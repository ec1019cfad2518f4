package transport

import (
	"context"
	"sync"
)

// Memory is an in-process mailbox. Fetch drains the recipient's queue.
type Memory struct {
	queues map[string][][]byte
	mu     sync.Mutex
}

// NewMemory creates an empty in-process mailbox.
func NewMemory() *Memory {
	return &Memory{queues: make(map[string][][]byte)}
}

// Send queues a copy of packet for recipient.
func (m *Memory) Send(ctx context.Context, recipient string, packet []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[recipient] = append(m.queues[recipient], append([]byte(nil), packet...))
	return nil
}

// Fetch returns and removes everything queued for handle, oldest first.
func (m *Memory) Fetch(ctx context.Context, handle string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	packets := m.queues[handle]
	delete(m.queues, handle)
	if packets == nil {
		packets = [][]byte{}
	}
	return packets, nil
}

// Pending reports how many packets wait for handle.
func (m *Memory) Pending(handle string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[handle])
}
