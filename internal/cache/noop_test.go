package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()

	entry, err := c.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Nil(t, entry, "expected cache miss")

	err = c.Set(ctx, "test-key", &Entry{Text: "summary", Confidence: 0.85}, time.Hour)
	require.NoError(t, err)

	// Nothing was actually stored.
	entry, err = c.Get(ctx, "test-key")
	require.NoError(t, err)
	assert.Nil(t, entry)

	assert.NoError(t, c.Close())
}

func TestKey(t *testing.T) {
	a := Key("Safety inspection report.", 150)
	assert.Len(t, a, 64)
	assert.Equal(t, a, Key("Safety inspection report.", 150), "key must be deterministic")
	assert.NotEqual(t, a, Key("Safety inspection report.", 100), "length limit is part of the key")
	assert.NotEqual(t, a, Key("Safety inspection report!", 150))
}
