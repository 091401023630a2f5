package structs

import "sync"

// Cached holds a lazily computed value. Get computes it at most once until
// Invalidate is called. A failed computation is not cached.
type Cached[T any] struct {
	mu    sync.Mutex
	valid bool
	v     T
}

// Get returns the cached value, calling compute when there is none.
func (c *Cached[T]) Get(compute func() (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid {
		return c.v, nil
	}
	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	c.v, c.valid = v, true
	return v, nil
}

// Invalidate drops the cached value.
func (c *Cached[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Valid reports whether a value is cached.
func (c *Cached[T]) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}
