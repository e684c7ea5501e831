// Package storage defines the durable-medium boundary used by the
// persistent lesson store: keyed byte blobs with an atomic rename primitive
// for crash-safe writes.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNotFound is returned by Read for keys that have never been written.
var ErrNotFound = errors.New("storage: key not found")

// Backend is the minimal durable medium contract.
// Implementations: Dir (filesystem), Mem (in-memory, for tests).
type Backend interface {
	// Read returns the bytes stored under key, or ErrNotFound.
	Read(key string) ([]byte, error)

	// Write stores data under key, overwriting any previous value.
	Write(key string, data []byte) error

	// AtomicRename moves the value under tmp to final in one step,
	// so a reader never observes a partially written final key.
	AtomicRename(tmp, final string) error
}

// Dir is a filesystem Backend that stores each key as a file in a root
// directory. Keys must be plain names, not paths.
type Dir struct {
	root string
}

// NewDir creates the root directory if needed and returns a Dir backend.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create root dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	return filepath.Join(d.root, key), nil
}

func (d *Dir) Read(key string) ([]byte, error) {
	p, err := d.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (d *Dir) Write(key string, data []byte) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o600)
}

func (d *Dir) AtomicRename(tmp, final string) error {
	tp, err := d.path(tmp)
	if err != nil {
		return err
	}
	fp, err := d.path(final)
	if err != nil {
		return err
	}
	if err := os.Rename(tp, fp); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// Mem is an in-memory Backend for tests. Values are copied on the way in
// and out so callers can't alias the stored bytes.
type Mem struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMem returns an empty in-memory backend.
func NewMem() *Mem {
	return &Mem{data: make(map[string][]byte)}
}

func (m *Mem) Read(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Mem) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.data[key] = stored
	return nil
}

func (m *Mem) AtomicRename(tmp, final string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[tmp]
	if !ok {
		return ErrNotFound
	}
	m.data[final] = data
	delete(m.data, tmp)
	return nil
}
