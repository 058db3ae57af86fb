package orchestrator

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/driftworks/cycle-orchestrator/internal/statestore"
)

// Registry hands out one state store per project, opened lazily. Stores are
// shared: every caller asking for the same project gets the same handle.
type Registry struct {
	dataDir string

	mu     sync.Mutex
	stores map[string]*statestore.Store
}

// NewRegistry creates a Registry rooted at dataDir
func NewRegistry(dataDir string) *Registry {
	return &Registry{
		dataDir: dataDir,
		stores:  make(map[string]*statestore.Store),
	}
}

// Store returns the state store for a project, opening it on first use
func (r *Registry) Store(project string) (*statestore.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[project]; ok {
		return s, nil
	}
	s, err := statestore.New(filepath.Join(r.dataDir, project+".db"))
	if err != nil {
		return nil, fmt.Errorf("open store for %s: %w", project, err)
	}
	r.stores[project] = s
	return s, nil
}

// CloseAll closes every open store. The registry stays usable; stores reopen
// on demand.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for name, s := range r.stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store %s: %w", name, err)
		}
		delete(r.stores, name)
	}
	return firstErr
}
