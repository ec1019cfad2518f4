package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a directory persisted as a JSON contacts vault:
//
//	{"contacts":[{"handle":"bob","public_key":"<base64>"}]}
type File struct {
	*Memory
	path string
	mu   sync.Mutex
}

type vault struct {
	Contacts []Contact `json:"contacts"`
}

// NewFile loads the vault at path. A missing file is an empty directory.
func NewFile(path string) (*File, error) {
	f := &File{
		Memory: NewMemory(),
		path:   path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contacts: %w", err)
	}

	var v vault
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contacts: %w", err)
	}

	for _, c := range v.Contacts {
		if err := f.Memory.Add(c.Handle, c.PublicKey); err != nil {
			return nil, fmt.Errorf("contacts file %s: %w", path, err)
		}
	}

	return f, nil
}

// Add registers handle's key and rewrites the vault.
func (f *File) Add(handle string, publicKey []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.Memory.Add(handle, publicKey); err != nil {
		return err
	}

	data, err := json.MarshalIndent(vault{Contacts: f.Memory.Contacts()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal contacts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create contacts dir: %w", err)
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
