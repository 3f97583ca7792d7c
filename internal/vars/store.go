package vars

import (
	"strings"
	"sync"
)

// Snapshot is a point-in-time copy of a Store. It is never mutated after
// Store.Snapshot returns it.
type Snapshot map[string]Value

// Lookup resolves a dotted path such as "servers.0.host". The first segment
// names a top-level variable.
func (s Snapshot) Lookup(path string) (Value, error) {
	head, rest, _ := strings.Cut(path, ".")
	v, ok := s[head]
	if !ok {
		return Value{}, &PathError{Path: path, Segment: head, Reason: "undefined variable"}
	}
	if rest == "" {
		return v, nil
	}
	out, err := v.Lookup(rest)
	if err != nil {
		if pe, ok := err.(*PathError); ok {
			pe.Path = path
		}
		return Value{}, err
	}
	return out, nil
}

// Env flattens scalar top-level variables into an environment map. Arrays and
// objects are skipped.
func (s Snapshot) Env() map[string]string {
	env := make(map[string]string, len(s))
	for k, v := range s {
		if !v.IsScalar() {
			continue
		}
		text, _ := v.Text()
		env[k] = text
	}
	return env
}

// Store is the per-pipeline variable store. All access is serialized by one
// mutex which is held only for the map operation itself.
type Store struct {
	mu   sync.Mutex
	vars map[string]Value
}

// NewStore seeds a store from layers applied in order; later layers win.
func NewStore(layers ...map[string]Value) *Store {
	s := &Store{vars: make(map[string]Value)}
	for _, layer := range layers {
		for k, v := range layer {
			s.vars[k] = v
		}
	}
	return s
}

// Get resolves a dotted path against the current contents.
func (s *Store) Get(path string) (Value, bool) {
	v, err := s.Snapshot().Lookup(path)
	return v, err == nil
}

func (s *Store) Set(name string, v Value) {
	s.mu.Lock()
	s.vars[name] = v
	s.mu.Unlock()
}

func (s *Store) SetString(name, value string) { s.Set(name, String(value)) }

// Merge assigns every entry of m, overwriting existing names.
func (s *Store) Merge(m map[string]Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range m {
		s.vars[k] = v
	}
}

// Snapshot copies the current contents. Values are immutable so a shallow
// copy of the map is sufficient.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Snapshot, len(s.vars))
	for k, v := range s.vars {
		out[k] = v
	}
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vars)
}
