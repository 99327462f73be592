// Package store holds the named values a cell contributes to later cells.
package store

import "github.com/dop251/goja"

// Store is an ordered mapping from binding name to runtime value. Names keep
// the position of their first insertion; overwriting a name replaces its
// value in place.
type Store struct {
	names  []string
	values map[string]goja.Value
}

// New returns an empty store.
func New() *Store {
	return &Store{values: make(map[string]goja.Value)}
}

// Set binds name to v.
func (s *Store) Set(name string, v goja.Value) {
	if _, ok := s.values[name]; !ok {
		s.names = append(s.names, name)
	}
	s.values[name] = v
}

// Get returns the value bound to name.
func (s *Store) Get(name string) (goja.Value, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[name]
	return v, ok
}

// Len returns the number of bindings.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Names returns binding names in order.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

// Values returns values in the same order as Names.
func (s *Store) Values() []goja.Value {
	if s == nil {
		return nil
	}
	out := make([]goja.Value, len(s.names))
	for i, name := range s.names {
		out[i] = s.values[name]
	}
	return out
}

// Export converts every value to its Go representation.
func (s *Store) Export() map[string]any {
	out := make(map[string]any, s.Len())
	if s == nil {
		return out
	}
	for _, name := range s.names {
		v := s.values[name]
		if v == nil {
			out[name] = nil
			continue
		}
		out[name] = v.Export()
	}
	return out
}

// Merge folds stores left to right into a new store. Later bindings overwrite
// earlier ones of the same name. Nil stores are skipped.
func Merge(stores ...*Store) *Store {
	out := New()
	for _, s := range stores {
		if s == nil {
			continue
		}
		for _, name := range s.names {
			out.Set(name, s.values[name])
		}
	}
	return out
}
