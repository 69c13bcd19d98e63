// Package kv is the device-local key-value store. Session tokens and alert
// preferences live here, namespaced by restaurant so a re-paired device never
// reads another restaurant's leftovers.
package kv

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

type Store struct {
	mu   sync.Mutex
	path string
	data map[string]json.RawMessage
}

// Open loads the store file, creating an empty store when it does not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: map[string]json.RawMessage{}}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &s.data); err != nil {
			// A corrupt state file should not brick the display.
			s.data = map[string]json.RawMessage{}
		}
	}
	return s, nil
}

func scoped(restaurantID, key string) string { return restaurantID + "/" + key }

// Get unmarshals the value for key into v. The boolean reports presence.
func (s *Store) Get(restaurantID, key string, v any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.data[scoped(restaurantID, key)]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// Put stores v under key and persists the whole store.
func (s *Store) Put(restaurantID, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[scoped(restaurantID, key)] = raw
	return s.flushLocked()
}

// Delete removes key and persists.
func (s *Store) Delete(restaurantID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, scoped(restaurantID, key))
	return s.flushLocked()
}

// flushLocked writes atomically: tmp file then rename, so a power cut mid-write
// leaves the previous state intact.
func (s *Store) flushLocked() error {
	b, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
