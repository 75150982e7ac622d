package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterOrReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := prometheus.CounterOpts{Name: "test_total", Help: "test"}

	first := prometheus.NewCounter(opts)
	got := RegisterOrReuse(reg, first)
	assert.Same(t, first, got)

	second := prometheus.NewCounter(opts)
	got = RegisterOrReuse(reg, second)
	assert.Same(t, first, got, "duplicate registration returns the existing collector")
}

func TestRegisterOrReusePanicsOnConflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterOrReuse(reg, prometheus.NewCounter(prometheus.CounterOpts{Name: "x_total", Help: "a"}))

	assert.Panics(t, func() {
		RegisterOrReuse(reg, prometheus.NewGauge(prometheus.GaugeOpts{Name: "x_total", Help: "b"}))
	})
}

func TestHandler(t *testing.T) {
	InitRegistry()
	require.True(t, IsEnabled())
	require.NotNil(t, Registerer())

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerDefaults(t *testing.T) {
	s := NewServer(ServerConfig{})
	assert.Equal(t, 9090, s.Port())
}
