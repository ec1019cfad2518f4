// Package mailbox implements the relay that holds stego packets until their
// recipients collect them over HTTP or DNS.
package mailbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrNotFound is returned for unknown message IDs or chunks.
	ErrNotFound = errors.New("message not found")
	// ErrExists is returned when a message ID is stored twice.
	ErrExists = errors.New("message already exists")
)

// State tracks the lifecycle of a stored message.
type State int

const (
	StateNew       State = iota // never fetched
	StateDelivered              // announced over DNS at least once
	StateConsumed               // drained over HTTP or acknowledged over DNS
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDelivered:
		return "delivered"
	case StateConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entry is a stored message. Chunks holds the encoded DNS chunks in
// sequence order.
type Entry struct {
	ID        string           `msgpack:"id"`
	Seq       uint64           `msgpack:"seq"` // arrival order
	Recipient string           `msgpack:"recipient"`
	Packet    []byte           `msgpack:"packet"`
	Chunks    []string         `msgpack:"chunks"`
	Manifest  string           `msgpack:"manifest"`
	CreatedAt time.Time        `msgpack:"created_at"`
	State     State            `msgpack:"state"`
	Consumers []ConsumerRecord `msgpack:"consumers"`
}

// ConsumerRecord tracks who fetched a message and when.
type ConsumerRecord struct {
	Client    string    `msgpack:"client"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Packet = append([]byte(nil), e.Packet...)
	c.Chunks = append([]string(nil), e.Chunks...)
	c.Consumers = append([]ConsumerRecord(nil), e.Consumers...)
	return &c
}

// Storage persists mailbox entries.
type Storage interface {
	StoreMessage(entry *Entry) error
	GetMessage(id string) (*Entry, error)
	GetChunk(id string, seq int) (string, error)

	// GetOpenMessages returns recipient's entries that are not consumed,
	// in arrival order.
	GetOpenMessages(recipient string) ([]*Entry, error)
	MarkAsDelivered(id, client string) error
	MarkAsConsumed(id, client string) error

	ListMessages() ([]*Entry, error)
	CleanExpired(ttl time.Duration) (int, error)
	GetStats() StorageStats
}

// StorageStats summarizes the store.
type StorageStats struct {
	TotalMessages int `json:"total_messages"`
	NewMessages   int `json:"new_messages"`
	Delivered     int `json:"delivered"`
	Consumed      int `json:"consumed"`
	TotalChunks   int `json:"total_chunks"`
	TotalBytes    int `json:"total_bytes"`
}

// MemoryStorage keeps everything in RAM.
type MemoryStorage struct {
	messages map[string]*Entry
	nextSeq  uint64
	now      func() time.Time
	mu       sync.RWMutex
}

// NewMemoryStorage creates in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		messages: make(map[string]*Entry),
		now:      time.Now,
	}
}

// StoreMessage adds a new entry in state New.
func (ms *MemoryStorage) StoreMessage(entry *Entry) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.messages[entry.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, entry.ID)
	}

	stored := entry.clone()
	ms.nextSeq++
	stored.Seq = ms.nextSeq
	stored.State = StateNew
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = ms.now()
	}
	ms.messages[stored.ID] = stored

	return nil
}

// GetMessage returns a copy of the entry.
func (ms *MemoryStorage) GetMessage(id string) (*Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entry, exists := ms.messages[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entry.clone(), nil
}

// GetChunk returns one encoded chunk without copying the entry.
func (ms *MemoryStorage) GetChunk(id string, seq int) (string, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entry, exists := ms.messages[id]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if seq < 0 || seq >= len(entry.Chunks) {
		return "", fmt.Errorf("%w: chunk %d of %s", ErrNotFound, seq, id)
	}
	return entry.Chunks[seq], nil
}

// GetOpenMessages returns unconsumed entries for recipient, oldest first.
func (ms *MemoryStorage) GetOpenMessages(recipient string) ([]*Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var open []*Entry
	for _, entry := range ms.messages {
		if entry.Recipient == recipient && entry.State != StateConsumed {
			open = append(open, entry.clone())
		}
	}
	sortBySeq(open)
	return open, nil
}

// MarkAsDelivered moves a New entry to Delivered and records the consumer.
func (ms *MemoryStorage) MarkAsDelivered(id, client string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.messages[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if entry.State == StateNew {
		entry.State = StateDelivered
	}
	entry.Consumers = append(entry.Consumers, ConsumerRecord{Client: client, FetchedAt: ms.now()})
	return nil
}

// MarkAsConsumed moves an entry to Consumed.
func (ms *MemoryStorage) MarkAsConsumed(id, client string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.messages[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if entry.State != StateConsumed {
		entry.State = StateConsumed
		entry.Consumers = append(entry.Consumers, ConsumerRecord{Client: client, FetchedAt: ms.now()})
	}
	return nil
}

// ListMessages returns copies of all entries in arrival order.
func (ms *MemoryStorage) ListMessages() ([]*Entry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entries := make([]*Entry, 0, len(ms.messages))
	for _, entry := range ms.messages {
		entries = append(entries, entry.clone())
	}
	sortBySeq(entries)
	return entries, nil
}

// CleanExpired removes entries older than ttl, whatever their state.
func (ms *MemoryStorage) CleanExpired(ttl time.Duration) (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-ttl)
	removed := 0
	for id, entry := range ms.messages {
		if entry.CreatedAt.Before(cutoff) {
			delete(ms.messages, id)
			removed++
		}
	}
	return removed, nil
}

// GetStats counts entries by state.
func (ms *MemoryStorage) GetStats() StorageStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var stats StorageStats
	for _, entry := range ms.messages {
		stats.TotalMessages++
		stats.TotalChunks += len(entry.Chunks)
		stats.TotalBytes += len(entry.Packet)
		switch entry.State {
		case StateNew:
			stats.NewMessages++
		case StateDelivered:
			stats.Delivered++
		case StateConsumed:
			stats.Consumed++
		}
	}
	return stats
}

func sortBySeq(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
}

// FileStorage is MemoryStorage plus a msgpack snapshot rewritten after
// every change.
type FileStorage struct {
	*MemoryStorage
	dataFile string
	mu       sync.Mutex
}

type snapshot struct {
	NextSeq  uint64            `msgpack:"next_seq"`
	Messages map[string]*Entry `msgpack:"messages"`
}

// NewFileStorage opens persistent storage at dataFile.
func NewFileStorage(dataFile string) (*FileStorage, error) {
	fs := &FileStorage{
		MemoryStorage: NewMemoryStorage(),
		dataFile:      dataFile,
	}

	if err := fs.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return fs, nil
}

// StoreMessage adds entry and persists.
func (fs *FileStorage) StoreMessage(entry *Entry) error {
	if err := fs.MemoryStorage.StoreMessage(entry); err != nil {
		return err
	}
	return fs.Save()
}

// MarkAsDelivered updates state and persists.
func (fs *FileStorage) MarkAsDelivered(id, client string) error {
	if err := fs.MemoryStorage.MarkAsDelivered(id, client); err != nil {
		return err
	}
	return fs.Save()
}

// MarkAsConsumed updates state and persists.
func (fs *FileStorage) MarkAsConsumed(id, client string) error {
	if err := fs.MemoryStorage.MarkAsConsumed(id, client); err != nil {
		return err
	}
	return fs.Save()
}

// CleanExpired removes old entries and persists if anything changed.
func (fs *FileStorage) CleanExpired(ttl time.Duration) (int, error) {
	removed, err := fs.MemoryStorage.CleanExpired(ttl)
	if err != nil || removed == 0 {
		return removed, err
	}
	return removed, fs.Save()
}

// Save writes the current state to disk (temp file, then rename).
func (fs *FileStorage) Save() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.MemoryStorage.mu.RLock()
	data, err := msgpack.Marshal(snapshot{NextSeq: fs.nextSeq, Messages: fs.messages})
	fs.MemoryStorage.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fs.dataFile), 0o700); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	tempFile := fs.dataFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, fs.dataFile); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Load replaces the in-memory state with the snapshot on disk.
func (fs *FileStorage) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.dataFile)
	if err != nil {
		return err
	}

	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	if snap.Messages == nil {
		snap.Messages = make(map[string]*Entry)
	}

	fs.MemoryStorage.mu.Lock()
	fs.messages = snap.Messages
	fs.nextSeq = snap.NextSeq
	fs.MemoryStorage.mu.Unlock()

	return nil
}
