package pipeline

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"taskgraph/internal/domain"
)

const DefaultCacheSize = 512

// ResultCache keeps recently served results in memory. It is only a latency
// shortcut; storage stays the system of record, so eviction never loses data.
type ResultCache struct {
	entries *lru.Cache[string, domain.TranscriptResult]
}

func NewResultCache(size int) (*ResultCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, domain.TranscriptResult](size)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	return &ResultCache{entries: entries}, nil
}

// Get returns a copy of the cached result for hash.
func (c *ResultCache) Get(hash string) (domain.TranscriptResult, bool) {
	res, ok := c.entries.Get(hash)
	if !ok {
		return domain.TranscriptResult{}, false
	}
	return res.Clone(), true
}

func (c *ResultCache) Put(result domain.TranscriptResult) {
	c.entries.Add(result.Hash, result.Clone())
}

func (c *ResultCache) Remove(hash string) {
	c.entries.Remove(hash)
}

func (c *ResultCache) Len() int {
	return c.entries.Len()
}
