package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// Registry maps each non-DCA product to its adapter. It is safe for
// concurrent use.
type Registry struct {
	adapters map[domain.Product]domain.ProductAdapter
	mu       sync.RWMutex
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[domain.Product]domain.ProductAdapter),
	}
}

// Register adds an adapter under its own product, replacing any previous one.
func (r *Registry) Register(a domain.ProductAdapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Product()] = a
}

// Get retrieves the adapter for p.
func (r *Registry) Get(p domain.Product) (domain.ProductAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[p]
	if !ok || p == domain.ProductDCA {
		return nil, fmt.Errorf("strategy: no adapter for product %q: %w", p, domain.ErrInvalidProduct)
	}
	return a, nil
}

// List returns the registered products in sorted order.
func (r *Registry) List() []domain.Product {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Product, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
