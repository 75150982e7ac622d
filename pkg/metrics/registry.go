// Package metrics owns the process-wide Prometheus registry and the HTTP
// endpoint that exposes it.
//
// Metrics are optional. Components take a prometheus.Registerer (nil
// disables registration) and their metric structs are nil-safe, so a
// process that never calls InitRegistry pays nothing.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry is written once by InitRegistry and read many times.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = r
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// Registerer returns the global registry as a Registerer, or nil when
// metrics are disabled. Returning a typed nil would defeat the nil checks
// in metric constructors.
func Registerer() prometheus.Registerer {
	if registry == nil {
		return nil
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// RegisterOrReuse registers c with reg. If an identical collector is already
// registered it returns the existing one, so a component recreated on
// reload keeps exporting the same series. Any other failure panics.
func RegisterOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}
