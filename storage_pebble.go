package humy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// PebbleStorage is a Storage backed by a Pebble database directory.
type PebbleStorage struct {
	db *pebble.DB
}

// OpenPebbleStorage opens (or creates) the database at dir.
func OpenPebbleStorage(dir string) (*PebbleStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create storage directory: %w", err)
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

func (s *PebbleStorage) Get(key string) (string, error) {
	val, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("pebble get %q: %w", key, err)
	}
	defer closer.Close()
	return string(val), nil
}

func (s *PebbleStorage) Set(key, value string) error {
	return s.db.Set([]byte(key), []byte(value), pebble.Sync)
}

func (s *PebbleStorage) Delete(key string) error {
	return s.db.Delete([]byte(key), pebble.Sync)
}

func (s *PebbleStorage) Close() error {
	return s.db.Close()
}
