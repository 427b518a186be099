/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package schema

import "sync"

// cacheEntry holds one compiled validator.
type cacheEntry struct {
	validator *Validator
}

// Cache memoizes compiled validators keyed by (canonical-schema-hash, path).
// It is unbounded in size per process lifetime — inputs are immutable, so
// no invalidation is needed, matching the Registry's lifetime.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
}

// NewCache creates an empty validator cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*cacheEntry)}
}

// CompileCached returns a cached Validator for (node, path) if one exists,
// compiling and storing it otherwise. path distinguishes e.g. input vs.
// output schemas that might otherwise canonicalize identically.
func (c *Cache) CompileCached(n *Node, path string) (*Validator, error) {
	key, err := HashHex(n)
	if err != nil {
		return nil, err
	}
	key = path + "|" + key

	c.mu.RLock()
	if e, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		return e.validator, nil
	}
	c.mu.RUnlock()

	v, err := Compile(n)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{validator: v}
	c.mu.Unlock()

	return v, nil
}

// Size returns the number of cached validators (diagnostic use).
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
