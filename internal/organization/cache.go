package organization

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/gestionsostenible/console-core/internal/identity"
	"github.com/gestionsostenible/console-core/internal/infrastructure/logging"
)

// Directory is the backend lookup boundary. Implementations return nil (no
// error) when an organization does not exist.
type Directory interface {
	Lookup(ctx context.Context, id string) (*identity.Organization, error)
	LookupBySlug(ctx context.Context, slug string) (*identity.Organization, error)
}

// Cache resolves organization metadata with a bounded LRU over a Directory.
// Lookup failures degrade to nil metadata; callers fall back to the default
// organization via Apply.
type Cache struct {
	directory Directory
	logger    *logging.Logger
	limit     int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type cacheEntry struct {
	id   string
	meta identity.Organization
}

// NewCache creates a cache with the given capacity. A nil directory is
// valid: only the default organization resolves.
func NewCache(directory Directory, limit int, logger *logging.Logger) *Cache {
	if limit <= 0 {
		limit = 1
	}
	return &Cache{
		directory: directory,
		logger:    logger,
		limit:     limit,
		entries:   make(map[string]*list.Element),
		order:     list.New(),
	}
}

// Resolve returns metadata for an organization id. Empty or default ids
// resolve to the built-in organization; unknown ids return nil.
func (c *Cache) Resolve(ctx context.Context, id string) *identity.Organization {
	orgID := SanitizeID(id)
	if orgID == "" || orgID == DefaultID {
		def := Default()
		return &def
	}

	if meta, ok := c.get(orgID); ok {
		return meta
	}
	if c.directory == nil {
		return nil
	}

	meta, err := c.directory.Lookup(ctx, orgID)
	if err != nil {
		c.logger.Warn("organization lookup failed", "organization_id", orgID, "error", err)
		return nil
	}
	if meta == nil {
		return nil
	}
	c.put(*meta)
	return meta
}

// ResolveBySlug finds an organization by its slug, normalizing first.
func (c *Cache) ResolveBySlug(ctx context.Context, slug string) *identity.Organization {
	normalized := Slugify(slug)
	if normalized == "" {
		return nil
	}
	if normalized == Slugify(DefaultName) || normalized == DefaultID {
		def := Default()
		return &def
	}

	c.mu.Lock()
	for el := c.order.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*cacheEntry)
		if strings.EqualFold(entry.meta.Slug, normalized) {
			meta := entry.meta
			c.order.MoveToFront(el)
			c.mu.Unlock()
			return &meta
		}
	}
	c.mu.Unlock()

	if c.directory == nil {
		return nil
	}
	meta, err := c.directory.LookupBySlug(ctx, normalized)
	if err != nil {
		c.logger.Warn("organization slug lookup failed", "slug", normalized, "error", err)
		return nil
	}
	if meta == nil {
		return nil
	}
	c.put(*meta)
	return meta
}

// Put caches metadata directly, for organizations learned outside Resolve
// (profile documents, broadcasts).
func (c *Cache) Put(meta identity.Organization) {
	if SanitizeID(meta.ID) == "" {
		return
	}
	c.put(meta)
}

// Len reports the number of cached organizations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) get(id string) (*identity.Organization, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	meta := el.Value.(*cacheEntry).meta
	return &meta, true
}

func (c *Cache) put(meta identity.Organization) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[meta.ID]; ok {
		el.Value.(*cacheEntry).meta = meta
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{id: meta.ID, meta: meta})
	c.entries[meta.ID] = el

	for len(c.entries) > c.limit {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		entry := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, entry.id)
	}
}
