package conc

import "sync"

// Map is a mutex guarded map for sharing state between goroutines.
type Map struct {
	mu sync.Mutex
	m  map[interface{}]interface{}
}

// NewMap returns an initialized concurrency safe map.
func NewMap() *Map {
	return &Map{m: make(map[interface{}]interface{})}
}

// Get returns the value for a key or nil if not set.
func (c *Map) Get(key interface{}) interface{} {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	v := c.m[key]
	c.mu.Unlock()
	return v
}

// Set stores a value for a key.
func (c *Map) Set(key, value interface{}) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.m[key] = value
	c.mu.Unlock()
}

// Snapshot returns a copy of the current contents of the map.
func (c *Map) Snapshot() map[interface{}]interface{} {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := make(map[interface{}]interface{}, len(c.m))
	for k, v := range c.m {
		snap[k] = v
	}
	return snap
}

// Transact runs the provided function while holding the map lock.
// The map must not be used from within the function.
func (c *Map) Transact(f func(m map[interface{}]interface{})) {
	if c == nil {
		f(map[interface{}]interface{}{})
		return
	}
	c.mu.Lock()
	f(c.m)
	c.mu.Unlock()
}
