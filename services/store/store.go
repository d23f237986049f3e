package store

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"klassenbuch_go/models"
)

var ErrNotFound = errors.New("student statistics not found")

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ClassID    string
	StudentIDs []string
	Search     string // case-insensitive substring of the student name
}

func (f Filter) match(s *models.StudentStatistics) bool {
	if f.ClassID != "" && s.ClassID != f.ClassID {
		return false
	}
	if len(f.StudentIDs) > 0 {
		found := false
		for _, id := range f.StudentIDs {
			if id == s.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(s.Name), strings.ToLower(strings.TrimSpace(f.Search))) {
		return false
	}
	return true
}

// Store owns the StudentStatistics collection of a session. Every mutation goes
// through Update, which runs under the write lock.
type Store struct {
	mutex   sync.RWMutex
	table   map[string]*models.StudentStatistics
	order   []string
	version uint64 // bumped by every committed Update and by Touch
}

func New() *Store {
	return &Store{table: make(map[string]*models.StudentStatistics)}
}

// Get returns a copy of the statistics for id.
func (st *Store) Get(id string) (models.StudentStatistics, bool) {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	s, ok := st.table[id]
	if !ok {
		return models.StudentStatistics{}, false
	}
	return s.Clone(), true
}

// Update runs fn on the stored record as one read-modify-write. fn works on a
// copy; the copy replaces the stored record only when fn returns nil.
func (st *Store) Update(id string, fn func(*models.StudentStatistics) error) (models.StudentStatistics, error) {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	orig, ok := st.table[id]
	if !ok {
		return models.StudentStatistics{}, ErrNotFound
	}
	work := orig.Clone()
	if err := fn(&work); err != nil {
		return orig.Clone(), err
	}
	st.table[id] = &work
	st.version++
	return work.Clone(), nil
}

// Version changes whenever a record is updated. A refresh compares it before
// and after fetching to detect writes it did not see.
func (st *Store) Version() uint64 {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.version
}

// Touch bumps the version once a committed change has reached the data source.
func (st *Store) Touch() {
	st.mutex.Lock()
	st.version++
	st.mutex.Unlock()
}

// List returns copies of the matching records in insertion order.
func (st *Store) List(f Filter) []models.StudentStatistics {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	out := make([]models.StudentStatistics, 0, len(st.order))
	for _, id := range st.order {
		s := st.table[id]
		if f.match(s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

// Replace swaps the whole collection, used by a full refresh.
func (st *Store) Replace(stats []models.StudentStatistics) {
	table, order := index(stats)
	st.mutex.Lock()
	st.table = table
	st.order = order
	st.mutex.Unlock()
}

// ReplaceIf swaps the collection only if the version still equals version.
// It reports whether the swap happened.
func (st *Store) ReplaceIf(stats []models.StudentStatistics, version uint64) bool {
	table, order := index(stats)
	st.mutex.Lock()
	defer st.mutex.Unlock()
	if st.version != version {
		return false
	}
	st.table = table
	st.order = order
	return true
}

func index(stats []models.StudentStatistics) (map[string]*models.StudentStatistics, []string) {
	table := make(map[string]*models.StudentStatistics, len(stats))
	order := make([]string, 0, len(stats))
	for _, s := range stats {
		c := s.Clone()
		if _, dup := table[c.ID]; !dup {
			order = append(order, c.ID)
		}
		table[c.ID] = &c
	}
	return table, order
}

// Len returns the number of stored students.
func (st *Store) Len() int {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return len(st.table)
}

// IDs returns all student ids sorted ascending.
func (st *Store) IDs() []string {
	st.mutex.RLock()
	ids := append([]string(nil), st.order...)
	st.mutex.RUnlock()
	sort.Strings(ids)
	return ids
}
