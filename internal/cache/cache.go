package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// Entry is a cached value together with the time it was stored
type Entry struct {
	Value     any
	Timestamp time.Time
}

// Store is a process-wide in-memory cache safe for concurrent use
type Store struct {
	entries sync.Map
}

// New creates an empty Store
func New() *Store {
	return &Store{}
}

// Load returns the cached value for key, if present
func (s *Store) Load(key string) (any, bool) {
	val, ok := s.entries.Load(key)
	if !ok {
		return nil, false
	}
	return val.(Entry).Value, true
}

// Save stores value under key, stamping it with the current time
func (s *Store) Save(key string, value any) {
	s.entries.Store(key, Entry{
		Value:     value,
		Timestamp: time.Now(),
	})
}

// Key builds a stable cache key from the given parts
func Key(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
