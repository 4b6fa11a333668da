package graph

import "fmt"

// PlaceholderBindings maps placeholders to host buffers for one inference
// request. It is not safe for concurrent mutation; each request owns its own
// bindings.
type PlaceholderBindings struct {
	buffers map[*Node][]byte
}

// NewPlaceholderBindings creates empty bindings.
func NewPlaceholderBindings() *PlaceholderBindings {
	return &PlaceholderBindings{buffers: make(map[*Node][]byte)}
}

// Allocate creates a zeroed buffer sized for the placeholder's type and binds
// it, replacing any previous binding.
func (b *PlaceholderBindings) Allocate(ph *Node) ([]byte, error) {
	if ph.Kind() != KindPlaceholder {
		return nil, fmt.Errorf("bindings: %s is not a placeholder", ph.Name())
	}
	buf := make([]byte, ph.OutputType(0).SizeInBytes())
	b.buffers[ph] = buf
	return buf, nil
}

// Insert binds an existing buffer. The length must match the placeholder type.
func (b *PlaceholderBindings) Insert(ph *Node, data []byte) error {
	if ph.Kind() != KindPlaceholder {
		return fmt.Errorf("bindings: %s is not a placeholder", ph.Name())
	}
	if int64(len(data)) != ph.OutputType(0).SizeInBytes() {
		return fmt.Errorf("bindings: buffer size %d does not match %s for %s",
			len(data), ph.OutputType(0), ph.Name())
	}
	b.buffers[ph] = data
	return nil
}

// Get returns the bound buffer, nil if unbound.
func (b *PlaceholderBindings) Get(ph *Node) []byte { return b.buffers[ph] }

// Count returns the number of bound placeholders.
func (b *PlaceholderBindings) Count() int { return len(b.buffers) }

// AllocateMissing binds zeroed buffers for any of the given placeholders that
// are still unbound.
func (b *PlaceholderBindings) AllocateMissing(phs []*Node) error {
	for _, ph := range phs {
		if _, ok := b.buffers[ph]; !ok {
			if _, err := b.Allocate(ph); err != nil {
				return err
			}
		}
	}
	return nil
}
