// internal/di/container.go
package di

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Container holds the wired components of one process and the hooks that
// release them. Hooks run in reverse registration order.
type Container struct {
	mutex    sync.RWMutex
	services map[string]interface{}
	closers  []closer
	closed   bool
}

type closer struct {
	name string
	fn   func() error
}

func NewContainer() *Container {
	return &Container{services: make(map[string]interface{})}
}

// Register stores a component under name, replacing any previous one.
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.services[name] = service
}

// Get returns the component registered under name, or nil.
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.services[name]
}

func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	_, exists := c.services[name]
	return exists
}

// GetNames returns the registered names in sorted order.
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Require reports the first of names that is not registered.
func (c *Container) Require(names ...string) error {
	for _, name := range names {
		if !c.Has(name) {
			return fmt.Errorf("component %q is not registered", name)
		}
	}
	return nil
}

// OnClose adds a release hook for the named component.
func (c *Container) OnClose(name string, fn func() error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

// Close runs every hook once, newest first, and joins their errors.
func (c *Container) Close() error {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return nil
	}
	c.closed = true
	closers := c.closers
	c.closers = nil
	c.mutex.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
		}
	}
	return errors.Join(errs...)
}
