package mapping

import (
	"sync"
	"time"
)

// Table is an immutable, ordered set of rules. Order is significant: the
// first matching rule wins.
type Table struct {
	rules []Rule
}

var emptyTable = &Table{}

// NewTable copies rules into a new Table.
func NewTable(rules []Rule) *Table {
	return newTable(append([]Rule(nil), rules...))
}

func newTable(rules []Rule) *Table {
	if len(rules) == 0 {
		return emptyTable
	}
	return &Table{rules: rules}
}

func (t *Table) Len() int {
	return len(t.rules)
}

// Find returns the first rule, in table order, accepted by match.
func (t *Table) Find(match func(Rule) bool) (Rule, bool) {
	for _, rule := range t.rules {
		if match(rule) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Rules returns a copy of the table contents.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Store holds the current Table. The table is only ever replaced as a
// whole, so readers see either the old or the new one.
type Store struct {
	mux      sync.RWMutex
	table    *Table
	loadedAt time.Time
}

func NewStore() *Store {
	return &Store{
		table: emptyTable,
	}
}

// Replace swaps in t as the current table.
func (s *Store) Replace(t *Table, loadedAt time.Time) {
	if t == nil {
		t = emptyTable
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.table = t
	s.loadedAt = loadedAt
}

// View runs fn with the current table while holding read access. fn must
// not retain t or call back into the store's write side.
func (s *Store) View(fn func(t *Table)) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	fn(s.table)
}

func (s *Store) Len() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.table.Len()
}

// LoadedAt returns the time of the last successful load, or the zero time.
func (s *Store) LoadedAt() time.Time {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.loadedAt
}
