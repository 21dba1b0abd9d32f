// Package registry holds the model catalog. A Registry is constructed once
// at process start, seeded, and passed by reference to whatever needs model
// lookups; there is no package-level instance.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/modelgate/modelgate/internal/domain"
)

type Registry struct {
	mu     sync.RWMutex
	models map[string]domain.ModelDescriptor
	sealed bool
}

func New() *Registry {
	return &Registry{models: make(map[string]domain.ModelDescriptor)}
}

// Register adds a model descriptor. Registration is rejected after Seal and
// for duplicate ids; descriptors are immutable once registered.
func (r *Registry) Register(m domain.ModelDescriptor) error {
	if m.ID == "" {
		return fmt.Errorf("register model: empty id")
	}
	if m.Provider == "" {
		return fmt.Errorf("register model %s: empty provider", m.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register model %s: registry sealed", m.ID)
	}
	if _, ok := r.models[m.ID]; ok {
		return fmt.Errorf("register model %s: already registered", m.ID)
	}

	r.models[m.ID] = m
	return nil
}

// Seal closes the registry for further registration. Called after startup
// seeding so lookups afterwards never race with writes.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (domain.ModelDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[id]
	if !ok {
		return domain.ModelDescriptor{}, fmt.Errorf("model %s: %w", id, domain.ErrModelNotFound)
	}
	return m, nil
}

// List returns all registered models sorted by id.
func (r *Registry) List() []domain.ModelDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ModelDescriptor, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByProvider returns the models owned by one provider, sorted by id.
func (r *Registry) ListByProvider(provider string) []domain.ModelDescriptor {
	var out []domain.ModelDescriptor
	for _, m := range r.List() {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}
