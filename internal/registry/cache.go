package registry

import (
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize bounds the number of artifact sets held in memory.
const DefaultCacheSize = 64

type cacheKey struct {
	Family  string
	Version string
	// Legacy entries come from the pre-registry layout and never share a
	// slot with a stored version, whatever that version is named.
	Legacy bool
}

func (k cacheKey) flight() string {
	if k.Legacy {
		return "legacy\x00" + k.Family
	}
	return k.Family + "\x00" + k.Version
}

// Cache holds loaded artifact sets keyed by (family, concrete version).
// Entries are immutable, so a duplicate load that loses the race is dropped.
type Cache struct {
	entries *lru.Cache[cacheKey, *ArtifactSet]
	group   singleflight.Group
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[cacheKey, *ArtifactSet](size)
	if err != nil {
		return nil, err
	}
	return &Cache{entries: entries}, nil
}

func (c *Cache) Get(family, version string) (*ArtifactSet, bool) {
	return c.entries.Get(cacheKey{Family: family, Version: version})
}

// GetOrLoad returns the cached set or runs load. Concurrent misses for the
// same key share one load; failures are not cached.
func (c *Cache) GetOrLoad(family, version string, load func() (*ArtifactSet, error)) (*ArtifactSet, error) {
	return c.getOrLoad(cacheKey{Family: family, Version: version}, load)
}

// GetLegacy returns the cached pre-registry set for family.
func (c *Cache) GetLegacy(family string) (*ArtifactSet, bool) {
	return c.entries.Get(cacheKey{Family: family, Legacy: true})
}

// GetOrLoadLegacy is GetOrLoad for sets read from the pre-registry layout.
func (c *Cache) GetOrLoadLegacy(family string, load func() (*ArtifactSet, error)) (*ArtifactSet, error) {
	return c.getOrLoad(cacheKey{Family: family, Legacy: true}, load)
}

func (c *Cache) getOrLoad(key cacheKey, load func() (*ArtifactSet, error)) (*ArtifactSet, error) {
	if set, ok := c.entries.Get(key); ok {
		return set, nil
	}

	v, err, _ := c.group.Do(key.flight(), func() (any, error) {
		if set, ok := c.entries.Get(key); ok {
			return set, nil
		}
		set, err := load()
		if err != nil {
			return nil, err
		}
		if prev, ok, _ := c.entries.PeekOrAdd(key, set); ok {
			return prev, nil
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ArtifactSet), nil
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Versions lists the cached stored versions of family, sorted. Legacy
// entries are not listed.
func (c *Cache) Versions(family string) []string {
	var out []string
	for _, k := range c.entries.Keys() {
		if k.Family == family && !k.Legacy {
			out = append(out, k.Version)
		}
	}
	sort.Strings(out)
	return out
}
