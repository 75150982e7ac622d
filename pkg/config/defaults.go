package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/nfscore/internal/protocol/nfs/v4/state"
	"github.com/marmos91/nfscore/pkg/idmap"
	idmapstore "github.com/marmos91/nfscore/pkg/idmap/store"
	mdstore "github.com/marmos91/nfscore/pkg/metadata/store"
)

// DefaultResolverSocket is where resolverd listens and the upcall resolver
// connects when neither names an address.
const DefaultResolverSocket = "/tmp/nfscore-resolver.sock"

// ApplyDefaults fills unspecified fields. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyMetricsDefaults(&cfg.Metrics)
	cfg.Admin.ApplyDefaults()
	applySessionDefaults(&cfg.Sessions)
	cfg.Idmap.ApplyDefaults()
	applyResolverDefaults(&cfg.Resolver)
	applyMetadataDefaults(&cfg.Metadata)
	applyResolverdDefaults(&cfg.Resolverd)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		// Slot waits and bucket contention show up in the mutex profiles.
		cfg.Profiling.ProfileTypes = []string{"cpu", "mutex_count", "mutex_duration"}
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applySessionDefaults(cfg *state.Config) {
	if cfg.MaxSlots == 0 {
		cfg.MaxSlots = state.DefaultSessionSlots
	}
}

func applyResolverDefaults(cfg *ResolverConfig) {
	if cfg.Type == "" {
		cfg.Type = ResolverStatic
	}
	if cfg.Upcall.Address == "" {
		cfg.Upcall.Address = DefaultResolverSocket
	}
	cfg.Upcall.ApplyDefaults()
}

func applyMetadataDefaults(cfg *mdstore.Config) {
	if cfg.Type == mdstore.TypeBadger && cfg.Badger.Path == "" && !cfg.Badger.InMemory {
		cfg.Badger.Path = filepath.Join(getConfigDir(), "metadata")
	}
	cfg.ApplyDefaults()
}

func applyResolverdDefaults(cfg *ResolverdConfig) {
	if cfg.Listen.Address == "" {
		cfg.Listen.Address = DefaultResolverSocket
	}
	cfg.Listen.ApplyDefaults()
	cfg.Database.ApplyDefaults()
}

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Idmap:    idmap.DefaultConfig(),
		Metadata: mdstore.Config{Type: mdstore.TypeMemory},
		Resolverd: ResolverdConfig{
			Database: idmapstore.Config{Type: idmapstore.DatabaseTypeSQLite},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
