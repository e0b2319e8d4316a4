package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrCapabilityMissing indicates a capability is not registered.
	ErrCapabilityMissing = errors.New("capability not registered")
	// ErrDuplicateCapability indicates a second registration under the same name.
	ErrDuplicateCapability = errors.New("capability already registered")
)

// Registry maps capability names to implementations. It is safe for
// concurrent use and shared across tasks.
type Registry struct {
	mu    sync.RWMutex
	caps  map[string]Capability
	cards map[string]Descriptor
}

// NewRegistry registers caps, failing on the first invalid or duplicate entry.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{caps: make(map[string]Capability), cards: make(map[string]Descriptor)}
	for _, c := range caps {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds c under its descriptor name.
func (r *Registry) Register(c Capability) error {
	if c == nil {
		return fmt.Errorf("register: nil capability")
	}
	d := c.Describe()
	if d.Name == "" {
		return fmt.Errorf("register: capability name is required")
	}
	sum, err := ComputeChecksum(d)
	if err != nil {
		return fmt.Errorf("register %s: checksum: %w", d.Name, err)
	}
	d.Checksum = sum

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caps[d.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, d.Name)
	}
	r.caps[d.Name] = c
	r.cards[d.Name] = d
	return nil
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityMissing, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCapabilityMissing, name)
	}
	return c, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.Get(name)
	return err == nil
}

// Descriptor returns the registered card for name, checksum included.
func (r *Registry) Descriptor(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.cards[name]
	return d, ok
}

// Descriptors lists all cards sorted by name.
func (r *Registry) Descriptors() []Descriptor {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.cards))
	for _, d := range r.cards {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
