package cache

import (
	"testing"

	"fundarb/internal/application/port"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ port.IDCache = (*RistrettoIDCache)(nil)

func TestIDCacheRoundTrip(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	defer c.Close()

	c.SetID("symbol:BTC", 3)
	c.SetName("symbol:3", "BTC")
	c.Wait()

	id, ok := c.GetID("symbol:BTC")
	require.True(t, ok)
	assert.Equal(t, int64(3), id)

	name, ok := c.GetName("symbol:3")
	require.True(t, ok)
	assert.Equal(t, "BTC", name)
}

func TestIDCacheSeparatesNamespaces(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	defer c.Close()

	c.SetID("x", 1)
	c.Wait()

	_, ok := c.GetName("x")
	assert.False(t, ok)
	_, ok = c.GetID("missing")
	assert.False(t, ok)
}
