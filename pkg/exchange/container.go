package exchange

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Container is a thread-safe registry of exchange clients keyed by name.
type Container struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewContainer creates and returns a new empty container.
func NewContainer() *Container {
	return &Container{
		clients: make(map[string]Client),
	}
}

// Register adds c under its own name, replacing any client of that name.
func (c *Container) Register(client Client) error {
	if client == nil {
		return errors.New("register nil client")
	}
	name := client.Name()
	if name == "" {
		return errors.New("register client without a name")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[name] = client
	return nil
}

// Get retrieves a client by name.
func (c *Container) Get(name string) (Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	client, exists := c.clients[name]
	if !exists {
		return nil, fmt.Errorf("exchange %q not found", name)
	}
	return client, nil
}

// Names returns the registered names in sorted order.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.clients))
	for name := range c.clients {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Unregister removes a client by name and closes it.
func (c *Container) Unregister(name string) error {
	c.mu.Lock()
	client, ok := c.clients[name]
	delete(c.clients, name)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return Close(client)
}

// Close closes and removes every client.
func (c *Container) Close() error {
	c.mu.Lock()
	clients := c.clients
	c.clients = make(map[string]Client)
	c.mu.Unlock()

	var errs []error
	for name, client := range clients {
		if err := Close(client); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) Exists(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.clients[name]
	return exists
}

func (c *Container) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}
