package tracker

import "sync"

// IDSet is a concurrency-safe set of job ids that remembers insertion order
type IDSet struct {
	mu    sync.Mutex
	order []int64
	ids   map[int64]struct{}
}

// NewIDSet creates an empty set
func NewIDSet() *IDSet {
	return &IDSet{ids: make(map[int64]struct{})}
}

// Add inserts id and reports whether it was absent
func (s *IDSet) Add(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	return true
}

// Remove deletes id and reports whether it was present
func (s *IDSet) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Set adds id when checked is true and removes it otherwise
func (s *IDSet) Set(id int64, checked bool) {
	if checked {
		s.Add(id)
		return
	}
	s.Remove(id)
}

// Contains reports whether id is in the set
func (s *IDSet) Contains(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// List returns the ids in insertion order
func (s *IDSet) List() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.order...)
}

// Replace swaps the contents for ids, dropping duplicates
func (s *IDSet) Replace(ids []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[int64]struct{}, len(ids))
	s.order = make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		s.order = append(s.order, id)
	}
}

// Drain returns the ids in insertion order and empties the set
func (s *IDSet) Drain() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.order
	s.order = nil
	s.ids = make(map[int64]struct{})
	return out
}

// Clear empties the set
func (s *IDSet) Clear() {
	s.Drain()
}

// Len returns the number of ids
func (s *IDSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
