package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mockdriver/internal/correlate"
	"mockdriver/internal/rules"
)

var _ rules.Observer = (*Metrics)(nil)

func TestObserverCounters(t *testing.T) {
	m := New()
	m.Compiled(rules.ModeDeclarative, rules.StateActive)
	m.Compiled(rules.ModeDeclarative, rules.StateInactive)
	m.Installed(1, nil)
	m.Installed(1, errors.New("boom"))
	m.Injected(rules.ModeBlocking)
	m.Correlated()
	m.PausedRequest("degraded")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compilations.WithLabelValues("declarative", "ACTIVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compilations.WithLabelValues("declarative", "INACTIVE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active), "compiling alone must not flip the gauge")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Installs.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Installs.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Injections.WithLabelValues("blocking")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Correlations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Paused.WithLabelValues("degraded")))
}

func TestActiveGaugeFollowsAppliedState(t *testing.T) {
	m := New()
	m.Compiled(rules.ModeDeclarative, rules.StateActive)
	m.Installed(1, errors.New("boom"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active))

	m.Applied(rules.StateActive)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Active))
	m.Applied(rules.StateInactive)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Active))
}

func TestCacheSizeGauge(t *testing.T) {
	m := New()
	cache := correlate.New(correlate.WithSizeObserver(m.ObserveCacheSize))
	cache.Record("r1", "A")
	cache.Record("r2", "B")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheSize))
	cache.Remove("r1")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheSize))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Injected(rules.ModeDeclarative)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `mockdriver_injections_total{mode="declarative"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
