// Package listings caches the property catalog, FAQ entries, and regional
// info consumed by the agent instructions. Reads never block on the CRM:
// they return the last good snapshot, falling back to a built-in default
// listing when nothing has ever loaded.
package listings

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petrona-ai/callbridge/pkg/crm"
)

const DefaultRefreshInterval = time.Minute

type snapshot struct {
	properties []crm.Property
	faqs       []crm.FAQ
	region     []crm.RegionInfo
	loadedAt   time.Time
}

type Cache struct {
	catalog  crm.Catalog
	logger   *slog.Logger
	interval time.Duration

	mu   sync.RWMutex
	snap snapshot
}

func NewCache(catalog crm.Catalog, interval time.Duration, logger *slog.Logger) *Cache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{catalog: catalog, logger: logger, interval: interval}
}

// Run refreshes the cache on its interval until ctx ends. The first
// refresh happens immediately so calls arriving right after startup see
// real data.
func (c *Cache) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("initial listings refresh failed", "error", err)
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				c.logger.Warn("listings refresh failed", "error", err)
			}
		}
	}
}

// Refresh reloads all three datasets. A failure on any of them keeps the
// previous snapshot intact.
func (c *Cache) Refresh(ctx context.Context) error {
	props, err := c.catalog.ActiveProperties(ctx)
	if err != nil {
		return err
	}
	faqs, err := c.catalog.FAQs(ctx)
	if err != nil {
		return err
	}
	region, err := c.catalog.RegionInfo(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.snap = snapshot{properties: props, faqs: faqs, region: region, loadedAt: time.Now()}
	c.mu.Unlock()
	c.logger.Info("listings refreshed", "properties", len(props), "faqs", len(faqs), "region_items", len(region))
	return nil
}

// Properties returns the cached active listings, or the default listing
// when the catalog has never produced any.
func (c *Cache) Properties() []crm.Property {
	c.mu.RLock()
	props := c.snap.properties
	c.mu.RUnlock()
	if len(props) == 0 {
		return DefaultProperties()
	}
	return props
}

func (c *Cache) FAQs() []crm.FAQ {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.faqs
}

func (c *Cache) RegionInfo() []crm.RegionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.region
}

func (c *Cache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.loadedAt
}

// DefaultProperties is the hardcoded listing used when the catalog is
// empty or unreachable, so the agent always has something to offer.
func DefaultProperties() []crm.Property {
	return []crm.Property{{
		Address:      "213 Ely Ave",
		City:         "Norwalk",
		Bedrooms:     "2",
		Bathrooms:    "1",
		Price:        "$2,500",
		Neighborhood: "Downtown",
		Status:       "Active",
		Features:     "Hardwood Floors, Updated Kitchen",
		Description:  "Beautiful updated family home in the heart of Downtown",
		Security:     "1 month rent",
	}}
}
