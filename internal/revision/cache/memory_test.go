package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revtrail/internal/revision/models"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	rev := &models.Revision{ID: 1, EntityName: "product", EntityID: 7}
	c.PutRevision(ctx, rev)
	got, ok := c.GetRevision(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, rev, got)

	c.PutLatest(ctx, "product", 7, rev)
	c.PutEntityList(ctx, "product", 7, []*models.Revision{rev})
	_, ok = c.GetLatest(ctx, "product", 7)
	assert.True(t, ok)
	_, ok = c.GetEntityList(ctx, "product", 7)
	assert.True(t, ok)
}

func TestEvictEntityDropsCompositeKeysOnly(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	rev := &models.Revision{ID: 1, EntityName: "product", EntityID: 7}
	c.PutRevision(ctx, rev)
	c.PutLatest(ctx, "product", 7, rev)
	c.PutEntityList(ctx, "product", 7, []*models.Revision{rev})

	c.EvictEntity(ctx, "product", 7)

	_, ok := c.GetLatest(ctx, "product", 7)
	assert.False(t, ok)
	_, ok = c.GetEntityList(ctx, "product", 7)
	assert.False(t, ok)

	// The by-id entry survives; it is immutable.
	_, ok = c.GetRevision(ctx, 1)
	assert.True(t, ok)
}

func TestClearDropsEverything(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.PutRevision(ctx, &models.Revision{ID: 1})
	c.Clear(ctx)

	_, ok := c.GetRevision(ctx, 1)
	assert.False(t, ok)
}

func TestHitRateCountsLookups(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.PutRevision(ctx, &models.Revision{ID: 1})
	c.GetRevision(ctx, 1) // hit
	c.GetRevision(ctx, 2) // miss

	rate, hits, misses := c.HitRate()
	assert.EqualValues(t, 1, hits)
	assert.EqualValues(t, 1, misses)
	assert.InDelta(t, 0.5, rate, 0.001)
}
