// Package cache provides the per-field selection mask cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/atlasmap-sc/phenospatial/internal/cells"
)

// DefaultMaskCacheSize bounds the number of masks kept per field.
const DefaultMaskCacheSize = 256

// Config contains cache configuration.
type Config struct {
	MaskCacheSize int
}

// Masks memoises selection masks for one PointSet. It must not outlive the
// field it was built for.
type Masks struct {
	ps    *cells.PointSet
	masks *lru.Cache[string, *roaring.Bitmap]

	hits, misses int
}

// NewMasks creates a mask cache over ps.
func NewMasks(ps *cells.PointSet, cfg Config) (*Masks, error) {
	size := cfg.MaskCacheSize
	if size <= 0 {
		size = DefaultMaskCacheSize
	}
	c, err := lru.New[string, *roaring.Bitmap](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create mask cache: %w", err)
	}
	return &Masks{ps: ps, masks: c}, nil
}

// Category returns the mask of points in category.
func (m *Masks) Category(category string) *roaring.Bitmap {
	key := CategoryKey(category)
	if bm, ok := m.masks.Get(key); ok {
		m.hits++
		return bm
	}
	m.misses++
	bm := m.ps.CategoryMask(category)
	m.masks.Add(key, bm)
	return bm
}

// Select returns the mask of points in category matching pred. Returned
// bitmaps are shared and must be treated as read-only.
func (m *Masks) Select(pred cells.Predicate, category string) *roaring.Bitmap {
	key := MaskKey(category, pred)
	if bm, ok := m.masks.Get(key); ok {
		m.hits++
		return bm
	}
	m.misses++
	bm := m.ps.MaskWithin(pred, m.Category(category))
	m.masks.Add(key, bm)
	return bm
}

// CategoryKey generates a cache key for a category mask.
func CategoryKey(category string) string {
	if category == cells.AllCategories {
		return "cat:*"
	}
	return "cat:" + category
}

// MaskKey generates a cache key for a predicate within a category. Predicate
// keys are built from sorted names, so equal sets share a key; long keys are
// hashed.
func MaskKey(category string, pred cells.Predicate) string {
	base := CategoryKey(category)
	names := pred.Key()
	if len(names) <= 64 {
		return base + "|sel:" + names
	}
	h := sha256.Sum256([]byte(names))
	return base + "|sel#" + hex.EncodeToString(h[:])[:16]
}

// Stats returns cache statistics.
func (m *Masks) Stats() map[string]interface{} {
	return map[string]interface{}{
		"mask_cache_len": m.masks.Len(),
		"hits":           m.hits,
		"misses":         m.misses,
	}
}
