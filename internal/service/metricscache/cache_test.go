package metricscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendwatch/internal/domain/metric"
)

func TestPutGet(t *testing.T) {
	c := New(time.Minute, time.Minute)

	s := metric.Summary{ID: "s-1", KeywordID: "kw-1", PostCount: 12, MeanEngagement: 3.4}
	c.Put("kw-1", s)

	got, ok := c.Get("kw-1")
	require.True(t, ok)
	assert.Equal(t, s, *got)
}

func TestGetMiss(t *testing.T) {
	c := New(time.Minute, time.Minute)

	got, ok := c.Get("kw-unknown")
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestPutOverwrites(t *testing.T) {
	c := New(time.Minute, time.Minute)

	c.Put("kw-1", metric.Summary{ID: "s-1", PostCount: 1})
	c.Put("kw-1", metric.Summary{ID: "s-2", PostCount: 2})

	got, ok := c.Get("kw-1")
	require.True(t, ok)
	assert.Equal(t, "s-2", got.ID)
}

func TestEntriesExpire(t *testing.T) {
	c := New(20*time.Millisecond, time.Minute)

	c.Put("kw-1", metric.Summary{ID: "s-1"})

	_, ok := c.Get("kw-1")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := c.Get("kw-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestInvalidate(t *testing.T) {
	c := New(time.Minute, time.Minute)

	c.Put("kw-1", metric.Summary{ID: "s-1"})
	c.Put("kw-2", metric.Summary{ID: "s-2"})

	c.Invalidate("kw-1")

	_, ok := c.Get("kw-1")
	assert.False(t, ok)

	// Other keywords are untouched
	_, ok = c.Get("kw-2")
	assert.True(t, ok)
}
