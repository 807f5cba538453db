package source

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultFormCacheSize is the number of forms CachedForms keeps.
const DefaultFormCacheSize = 256

// CachedForms wraps Forms with an LRU cache of FindForm results. The sync
// worker purges it at the start of every drain cycle so form edits are
// seen by the next pass.
type CachedForms struct {
	inner Forms
	cache *lru.Cache[int, Form]
}

// NewCachedForms wraps inner with a cache of size entries.
func NewCachedForms(inner Forms, size int) *CachedForms {
	if size <= 0 {
		size = DefaultFormCacheSize
	}
	cache, _ := lru.New[int, Form](size)
	return &CachedForms{inner: inner, cache: cache}
}

// FindForm implements Forms. Lookup errors are not cached.
func (c *CachedForms) FindForm(ctx context.Context, id int) (Form, error) {
	if f, ok := c.cache.Get(id); ok {
		return f, nil
	}
	f, err := c.inner.FindForm(ctx, id)
	if err != nil {
		return Form{}, err
	}
	c.cache.Add(id, f)
	return f, nil
}

// ListForms implements Forms and refreshes the cache with the result.
func (c *CachedForms) ListForms(ctx context.Context) ([]Form, error) {
	forms, err := c.inner.ListForms(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range forms {
		c.cache.Add(f.ID, f)
	}
	return forms, nil
}

// Purge empties the cache.
func (c *CachedForms) Purge() {
	c.cache.Purge()
}

// Len returns the number of cached forms.
func (c *CachedForms) Len() int {
	return c.cache.Len()
}
