package preview

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// DefaultPrefix is the path under which references are served.
const DefaultPrefix = "/previews/"

type entry struct {
	data     []byte
	mimeType string
}

// Store keeps transient preview images addressable by reference until they
// are released.
type Store struct {
	prefix string
	mu     sync.RWMutex
	items  map[string]entry
}

// NewStore creates a store whose references start with prefix.
func NewStore(prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		prefix: prefix,
		items:  make(map[string]entry),
	}
}

// Put registers data and returns its reference.
func (s *Store) Put(data []byte, mimeType string) string {
	id := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[id] = entry{data: data, mimeType: mimeType}
	return s.prefix + id
}

// Get looks up a preview by id (the reference without its prefix).
func (s *Store) Get(id string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	return e.data, e.mimeType, ok
}

// Release invalidates a reference. Unknown references are ignored.
func (s *Store) Release(ref string) {
	id := strings.TrimPrefix(ref, s.prefix)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// Len reports how many previews are live.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
