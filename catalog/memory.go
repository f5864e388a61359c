package catalog

import (
	"context"
	"sync"

	"github.com/zonebnation/ebizimba-content/interfaces"
)

// MemoryCatalog keeps descriptors in memory, in insertion order.
type MemoryCatalog struct {
	mu    sync.Mutex
	order []interfaces.ContentID
	descs map[interfaces.ContentID]interfaces.ContentDescriptor
}

// NewMemoryCatalog creates a catalog holding descs.
func NewMemoryCatalog(descs ...interfaces.ContentDescriptor) *MemoryCatalog {
	c := &MemoryCatalog{descs: make(map[interfaces.ContentID]interfaces.ContentDescriptor)}
	for _, d := range descs {
		c.put(d)
	}
	return c
}

func (c *MemoryCatalog) put(desc interfaces.ContentDescriptor) {
	if _, ok := c.descs[desc.ID]; !ok {
		c.order = append(c.order, desc.ID)
	}
	c.descs[desc.ID] = desc
}

func (c *MemoryCatalog) List(ctx context.Context) ([]interfaces.ContentDescriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]interfaces.ContentDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.descs[id])
	}
	return out, nil
}

func (c *MemoryCatalog) Insert(ctx context.Context, desc interfaces.ContentDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(desc)
	return nil
}

func (c *MemoryCatalog) Delete(ctx context.Context, id interfaces.ContentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.descs[id]; !ok {
		return nil
	}
	delete(c.descs, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}
