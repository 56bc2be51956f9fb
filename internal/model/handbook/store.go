package handbook

// Store exposes loaded handbook passages to retrieval and HTTP handlers.
type Store interface {
	List() []Passage
	FindByID(id string) (Passage, bool)
}

// MemoryStore implements Store over an immutable in-memory slice.
type MemoryStore struct {
	items []Passage
	index map[string]int
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied passages.
func NewMemoryStore(items []Passage) *MemoryStore {
	s := &MemoryStore{
		items: append([]Passage(nil), items...),
		index: make(map[string]int, len(items)),
	}
	for i, item := range s.items {
		s.index[item.ID] = i
	}
	return s
}

// List returns a copy of every passage in load order.
func (s *MemoryStore) List() []Passage {
	return append([]Passage(nil), s.items...)
}

// FindByID looks up a passage by identifier.
func (s *MemoryStore) FindByID(id string) (Passage, bool) {
	i, ok := s.index[id]
	if !ok {
		return Passage{}, false
	}
	return s.items[i], true
}

// Len returns the number of passages.
func (s *MemoryStore) Len() int {
	return len(s.items)
}
