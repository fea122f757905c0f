// Package refdata checks identities owned by the external reference-data
// service (locations, departments, systems, machines, users).
package refdata

import (
	"context"
	"sync"
)

// Kind identifies a reference-data collection.
type Kind string

const (
	KindLocation   Kind = "location"
	KindDepartment Kind = "department"
	KindSystem     Kind = "system"
	KindMachine    Kind = "machine"
	KindEngineer   Kind = "engineer"
)

// Resolver reports whether a reference-data identity exists. Whether
// inactive entities resolve is the reference service's decision.
type Resolver interface {
	Exists(ctx context.Context, kind Kind, id string) (bool, error)
}

// AllowAll resolves every identity. Used when no reference service is
// configured.
type AllowAll struct{}

// Exists always reports true.
func (AllowAll) Exists(context.Context, Kind, string) (bool, error) { return true, nil }

// Static is an in-memory resolver.
type Static struct {
	mu  sync.RWMutex
	ids map[Kind]map[string]bool
}

// NewStatic returns an empty in-memory resolver.
func NewStatic() *Static {
	return &Static{ids: make(map[Kind]map[string]bool)}
}

// Add registers ids under kind.
func (s *Static) Add(kind Kind, ids ...string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[kind] == nil {
		s.ids[kind] = make(map[string]bool)
	}
	for _, id := range ids {
		s.ids[kind][id] = true
	}
	return s
}

// Exists reports whether id was added under kind.
func (s *Static) Exists(_ context.Context, kind Kind, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids[kind][id], nil
}
