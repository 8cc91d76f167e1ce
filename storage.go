package humy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// ErrKeyNotFound is returned by Storage.Get for missing keys.
var ErrKeyNotFound = errors.New("humy: key not found")

// Storage is a small persistent key/value store for session material such
// as access tokens.
type Storage interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// ============================================================================
// MemoryStorage
// ============================================================================

// MemoryStorage is a goroutine-safe in-memory Storage.
type MemoryStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{values: make(map[string]string)}
}

func (s *MemoryStorage) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// ============================================================================
// FileStorage
// ============================================================================

// FileStorage keeps values in a TOML file, rewritten on every change.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

type fileStorageDoc struct {
	Values map[string]string `toml:"values"`
}

// NewFileStorage uses the TOML file at path; it is created on first write.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (s *FileStorage) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := doc.Values[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	doc.Values[key] = value
	return s.save(doc)
}

func (s *FileStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Values[key]; !ok {
		return nil
	}
	delete(doc.Values, key)
	return s.save(doc)
}

func (s *FileStorage) load() (*fileStorageDoc, error) {
	doc := &fileStorageDoc{}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			doc.Values = make(map[string]string)
			return doc, nil
		}
		return nil, fmt.Errorf("cannot read storage: %w", err)
	}
	if err := toml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("cannot parse storage: %w", err)
	}
	if doc.Values == nil {
		doc.Values = make(map[string]string)
	}
	return doc, nil
}

func (s *FileStorage) save(doc *fileStorageDoc) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cannot marshal storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("cannot create storage directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write storage: %w", err)
	}
	return nil
}
