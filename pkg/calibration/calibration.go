// Package calibration persists per-channel zero offsets.
package calibration

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Keys of the persisted channels.
const (
	KeyVoltage = "voltage"
	KeyCurrent = "current"
)

// Store is a key/value blob store for zero offsets. Read returns n zeros
// for a key that was never written.
type Store interface {
	Read(key string, n int) ([]uint16, error)
	Write(key string, zeros []uint16) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// Uncalibrated reports whether zeros hold the never-calibrated sentinel.
func Uncalibrated(zeros []uint16) bool {
	return len(zeros) == 0 || zeros[0] == 0
}

// fit pads or truncates zeros to n entries.
func fit(zeros []uint16, n int) []uint16 {
	out := make([]uint16, n)
	copy(out, zeros)
	return out
}

// FileStore keeps zero offsets in a YAML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Read returns the zeros stored under key.
func (s *FileStore) Read(key string, n int) ([]uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return fit(nil, n), err
	}
	return fit(data[key], n), nil
}

// Write replaces the zeros stored under key.
func (s *FileStore) Write(key string, zeros []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = append([]uint16(nil), zeros...)

	out, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal calibration: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".calibration-*")
	if err != nil {
		return fmt.Errorf("failed to create calibration file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write calibration file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace calibration file: %w", err)
	}

	return nil
}

func (s *FileStore) load() (map[string][]uint16, error) {
	data := make(map[string][]uint16)

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, fmt.Errorf("failed to read calibration file: %w", err)
	}

	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse calibration file: %w", err)
	}
	if data == nil {
		data = make(map[string][]uint16)
	}

	return data, nil
}

// MemoryStore keeps zero offsets in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]uint16
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]uint16)}
}

// Read returns the zeros stored under key.
func (s *MemoryStore) Read(key string, n int) ([]uint16, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fit(s.data[key], n), nil
}

// Write replaces the zeros stored under key.
func (s *MemoryStore) Write(key string, zeros []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]uint16(nil), zeros...)
	return nil
}
