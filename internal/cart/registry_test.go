package cart

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/catalog"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

func newTestRegistry(slots *fakeSlots) *Registry {
	m := metrics.NewStorefrontMetricsWithRegisterer(prometheus.NewRegistry())
	return NewRegistry(catalog.Default(), slots, nil, m)
}

func TestRegistry_GetReturnsSameStore(t *testing.T) {
	r := newTestRegistry(newFakeSlots())

	first, err := r.Get("session-a")
	require.NoError(t, err)
	second, err := r.Get("session-a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "session/session-a/ideaGrafik_cart_v2", first.SlotKey())
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	slots := newFakeSlots()
	r := newTestRegistry(slots)

	a, err := r.Get("a")
	require.NoError(t, err)
	b, err := r.Get("b")
	require.NoError(t, err)

	require.NoError(t, a.Add("p1", 2, ""))
	assert.Equal(t, 2, a.Totals().ItemCount)
	assert.Zero(t, b.Totals().ItemCount)
	assert.Empty(t, slots.get(SlotKey("b")))
}

func TestRegistry_LoadsPersistedCart(t *testing.T) {
	slots := newFakeSlots()
	slots.put(SlotKey("returning"), `{"p3": 2}`)
	r := newTestRegistry(slots)

	s, err := r.Get("returning")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Totals().ItemCount)
}

func TestRegistry_ReadFailureIsNotCached(t *testing.T) {
	slots := newFakeSlots()
	slots.put(SlotKey("x"), `{"p1_M":{"quantity":3,"size":"M"},"p7_A4":{"quantity":2,"size":"A4"}}`)
	slots.failRead = true
	r := newTestRegistry(slots)

	s, err := r.Get("x")
	require.ErrorIs(t, err, domain.ErrPersistenceRead)
	assert.Nil(t, s)
	assert.Zero(t, r.Len())

	slots.failRead = false
	s, err = r.Get("x")
	require.NoError(t, err)
	assert.Equal(t, 5, s.Totals().ItemCount)

	require.NoError(t, s.Add("p3", 1, ""))
	saved := slots.get(SlotKey("x"))
	assert.Contains(t, saved, `"p1_M"`)
	assert.Contains(t, saved, `"p7_A4"`)
	assert.Contains(t, saved, `"p3_Única"`)
	assert.Equal(t, 6, s.Totals().ItemCount)
}

func TestRegistry_InvalidSessionID(t *testing.T) {
	r := newTestRegistry(newFakeSlots())

	for _, id := range []string{"", "a/b", "with space", string(make([]byte, maxSessionIDLength+1))} {
		_, err := r.Get(id)
		assert.ErrorIs(t, err, ErrInvalidSessionID, "id=%q", id)
	}
	assert.Zero(t, r.Len())
}

func TestRegistry_EvictReloadsFromSlot(t *testing.T) {
	slots := newFakeSlots()
	r := newTestRegistry(slots)

	s, err := r.Get("a")
	require.NoError(t, err)
	require.NoError(t, s.Add("p4", 3, ""))

	assert.True(t, r.Evict("a"))
	assert.False(t, r.Evict("a"))

	reloaded, err := r.Get("a")
	require.NoError(t, err)
	assert.NotSame(t, s, reloaded)
	assert.Equal(t, 3, reloaded.Totals().ItemCount)
}

func TestRegistry_EvictIdle(t *testing.T) {
	r := newTestRegistry(newFakeSlots())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Get("old")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = r.Get("fresh")
	require.NoError(t, err)

	evicted := r.EvictIdle(now.Add(-30 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, r.Len())
}
