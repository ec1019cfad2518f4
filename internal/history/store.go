// Package history records every message a client sends or receives.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Record is one send or receive event. Records are immutable once saved.
type Record struct {
	ID        uuid.UUID `json:"id"`
	Content   []byte    `json:"content"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Memory keeps records in insertion order.
type Memory struct {
	records []Record
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemory creates an empty in-memory history.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Save appends a record holding a copy of content.
func (m *Memory) Save(ctx context.Context, content []byte, status Status) error {
	_, err := m.add(ctx, content, status)
	return err
}

func (m *Memory) add(ctx context.Context, content []byte, status Status) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if _, ok := statusNames[status]; !ok {
		return Record{}, fmt.Errorf("invalid status %d", uint8(status))
	}

	record := Record{
		ID:        uuid.New(),
		Content:   append([]byte(nil), content...),
		Status:    status,
		CreatedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.records = append(m.records, record)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "history.Save",
		"id":       record.ID,
		"status":   status,
		"size":     len(content),
	}).Debug("Recorded message")

	return record, nil
}

// List returns copies of all records, oldest first.
func (m *Memory) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records))
	for i, r := range m.records {
		r.Content = append([]byte(nil), r.Content...)
		out[i] = r
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// File persists records to a JSON file, rewritten atomically on every save.
type File struct {
	*Memory
	path string
	mu   sync.Mutex
}

type fileSnapshot struct {
	Records []Record `json:"records"`
}

// NewFile opens (or starts) the history at path.
func NewFile(path string) (*File, error) {
	f := &File{
		Memory: NewMemory(),
		path:   path,
	}

	if err := f.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	return f, nil
}

// Save appends a record and writes the file. On write failure the record
// is dropped from memory as well.
func (f *File) Save(ctx context.Context, content []byte, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, err := f.Memory.add(ctx, content, status)
	if err != nil {
		return err
	}

	if err := f.persist(); err != nil {
		f.Memory.mu.Lock()
		f.Memory.records = f.Memory.records[:len(f.Memory.records)-1]
		f.Memory.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "history.File.Save",
			"id":       record.ID,
			"error":    err,
		}).Error("Failed to persist history")
		return err
	}
	return nil
}

func (f *File) persist() error {
	f.Memory.mu.RLock()
	data, err := json.MarshalIndent(fileSnapshot{Records: f.Memory.records}, "", "  ")
	f.Memory.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create history dir: %w", err)
		}
	}

	tempFile := f.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, f.path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (f *File) load() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return err
	}

	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal history: %w", err)
	}

	f.Memory.records = snapshot.Records
	return nil
}
