package openaq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// --- mock for cache tests ---

type countingSource struct {
	calls   int
	records []domain.RawMeasurement
	err     error
}

func (s *countingSource) Fetch(_ context.Context, _ domain.Query) ([]domain.RawMeasurement, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func newTestCache(inner domain.Source, ttl time.Duration, size int) (*CachedSource, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(testNow)
	c := NewCachedSource(inner, ttl, size, observability.NewMetricsForTesting())
	c.clock = clock
	return c, clock
}

func oneRecord() []domain.RawMeasurement {
	return []domain.RawMeasurement{{
		Location: "Anand Vihar", Parameter: "pm25", Value: 150.0, Unit: "µg/m³",
		Date: domain.NestedUTC("2024-01-15T10:00:00Z"),
	}}
}

// --- CachedSource tests ---

func TestCachedSource_Hit(t *testing.T) {
	inner := &countingSource{records: oneRecord()}
	cached, _ := newTestCache(inner, time.Minute, 10)

	r1, err := cached.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	r2, err := cached.Fetch(context.Background(), testQuery())
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, 1, inner.calls, "should only call inner once")
}

func TestCachedSource_ExpiresAfterTTL(t *testing.T) {
	inner := &countingSource{records: oneRecord()}
	cached, clock := newTestCache(inner, time.Minute, 10)

	_, err := cached.Fetch(context.Background(), testQuery())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = cached.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedSource_DistinctQueries(t *testing.T) {
	inner := &countingSource{records: oneRecord()}
	cached, _ := newTestCache(inner, time.Minute, 10)

	q2 := testQuery()
	q2.Parameter = "no2"

	_, _ = cached.Fetch(context.Background(), testQuery())
	_, _ = cached.Fetch(context.Background(), q2)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedSource_ErrorsNotCached(t *testing.T) {
	inner := &countingSource{err: errors.New("upstream down")}
	cached, _ := newTestCache(inner, time.Minute, 10)

	_, err := cached.Fetch(context.Background(), testQuery())
	require.Error(t, err)
	_, err = cached.Fetch(context.Background(), testQuery())
	require.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedSource_ZeroTTLDisablesCache(t *testing.T) {
	inner := &countingSource{records: oneRecord()}
	cached, _ := newTestCache(inner, 0, 10)

	_, _ = cached.Fetch(context.Background(), testQuery())
	_, _ = cached.Fetch(context.Background(), testQuery())
	assert.Equal(t, 2, inner.calls)
}

func TestCachedSource_ReturnsCopies(t *testing.T) {
	inner := &countingSource{records: oneRecord()}
	cached, _ := newTestCache(inner, time.Minute, 10)

	r1, err := cached.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	r1[0].Value = -1.0

	r2, err := cached.Fetch(context.Background(), testQuery())
	require.NoError(t, err)
	assert.Equal(t, 150.0, r2[0].Value)
}

// --- LRU tests ---

func TestLRUCache_Eviction(t *testing.T) {
	c := newLRUCache(2)
	expires := testNow.Add(time.Hour)
	qa := domain.Query{Location: "a"}
	qb := domain.Query{Location: "b"}
	qc := domain.Query{Location: "c"}

	c.put(qa, oneRecord(), expires)
	c.put(qb, oneRecord(), expires)
	_, ok := c.get(qa, testNow) // a becomes most recent
	require.True(t, ok)
	c.put(qc, oneRecord(), expires)

	_, ok = c.get(qb, testNow)
	assert.False(t, ok, "b should have been evicted")
	_, ok = c.get(qa, testNow)
	assert.True(t, ok)
	_, ok = c.get(qc, testNow)
	assert.True(t, ok)
	assert.Equal(t, 2, c.len())
}

func TestLRUCache_ExpiredEntryRemoved(t *testing.T) {
	c := newLRUCache(2)
	q := domain.Query{Location: "a"}
	c.put(q, oneRecord(), testNow)

	_, ok := c.get(q, testNow)
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}

func TestLRUCache_UpdateExisting(t *testing.T) {
	c := newLRUCache(2)
	q := domain.Query{Location: "a"}
	c.put(q, nil, testNow.Add(time.Hour))
	c.put(q, oneRecord(), testNow.Add(time.Hour))

	v, ok := c.get(q, testNow)
	require.True(t, ok)
	assert.Len(t, v, 1)
	assert.Equal(t, 1, c.len())
}
