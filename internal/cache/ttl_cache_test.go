package cache

import (
	"testing"
	"time"

	"github.com/smallbiznis/vertextax/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestTTLCacheExpires(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, string](clk)

	c.Set("token", "abc", time.Minute)
	got, ok := c.Get("token")
	assert.True(t, ok)
	assert.Equal(t, "abc", got)

	clk.Advance(59 * time.Second)
	_, ok = c.Get("token")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get("token")
	assert.False(t, ok)
}

func TestTTLCacheWithoutTTL(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	c := NewTTLCache[string, int](clk)

	c.Set("k", 1, 0)
	clk.Advance(24 * time.Hour)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("k")
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestNilTTLCache(t *testing.T) {
	var c *TTLCache[string, string]
	c.Set("k", "v", time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
}
