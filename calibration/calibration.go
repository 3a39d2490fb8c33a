// Package calibration persists instrument calibration entries by key.
package calibration

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrCorrupt is generated when stored calibration data fails its checksum
	ErrCorrupt = errors.New("calibration data failed checksum")
)

// Entry is one calibrated position of a container relative to an instrument
type Entry struct {
	Container string    `json:"container" yaml:"Container"`
	X         float64   `json:"x" yaml:"X"`
	Y         float64   `json:"y" yaml:"Y"`
	Z         float64   `json:"z" yaml:"Z"`
	Timestamp time.Time `json:"timestamp" yaml:"Timestamp"`
}

// Store is keyed persistence of calibration entries
type Store interface {
	// Init prepares key for use, leaving existing entries untouched
	Init(string) error

	// Load returns the entries under key, oldest first
	Load(string) ([]Entry, error)

	// Save appends an entry under key
	Save(string, Entry) error

	// Delete removes every entry under key
	Delete(string) error

	// Close releases the store
	Close() error
}

// MemoryStore is a Store which lives only as long as the process
type MemoryStore struct {
	sync.Mutex
	data map[string][]Entry
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Entry)}
}

// Init prepares key for use
func (s *MemoryStore) Init(key string) error {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.data[key]; !ok {
		s.data[key] = []Entry{}
	}
	return nil
}

// Load returns a copy of the entries under key
func (s *MemoryStore) Load(key string) ([]Entry, error) {
	s.Lock()
	defer s.Unlock()
	entries := s.data[key]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Save appends an entry under key
func (s *MemoryStore) Save(key string, e Entry) error {
	s.Lock()
	defer s.Unlock()
	s.data[key] = append(s.data[key], e)
	return nil
}

// Delete removes every entry under key
func (s *MemoryStore) Delete(key string) error {
	s.Lock()
	defer s.Unlock()
	delete(s.data, key)
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
