package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.OnOpen(ResultOK)
	m.OnOpen(ResultError)
	m.OnLookup(ResultFound, time.Microsecond)
	m.OnLookup(ResultFound, 2*time.Microsecond)
	m.OnLookup(ResultInvalidHandle, 0)
	m.OnFree(ResultUnknownBuffer)
	m.SetLiveHandles(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.opens.WithLabelValues(ResultOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lookups.WithLabelValues(ResultFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frees.WithLabelValues(ResultUnknownBuffer)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.liveHandles))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["ikv_lookup_latency_seconds"])
	assert.True(t, names["ikv_live_handles"])
}
