// Package config implements the layered configuration resolver of
// spec §4.10: defaults < file < environment < command-line arguments
// < runtime overrides, published as immutable Snapshots behind an
// atomic pointer. Reload publishes a new Snapshot; a handler that is
// mid-flight keeps working off the Snapshot it already read.
//
// Layering and CLI flag binding follow joestump-claude-ops's
// internal/config + cmd/claudeops/main.go (viper + cobra); file
// watching is viper's fsnotify-backed WatchConfig, used explicitly
// rather than only transitively, matching claude-ops's direct
// fsnotify dependency.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServerConfig is the `server` config block of §6.
type ServerConfig struct {
	Port           int    `mapstructure:"port"`
	Host           string `mapstructure:"host"`
	AuthEnabled    bool   `mapstructure:"auth_enabled"`
	AuthToken      string `mapstructure:"auth_token"`
	MaxConnections int    `mapstructure:"max_connections"`
	TLSEnabled     bool   `mapstructure:"tls_enabled"`
	TLSCertPath    string `mapstructure:"tls_cert_path"`
	TLSKeyPath     string `mapstructure:"tls_key_path"`
	TLSAutoGen     bool   `mapstructure:"tls_auto_generate"`
}

// SchedulerConfig is the `scheduler` config block of §6.
type SchedulerConfig struct {
	Profile               string `mapstructure:"profile"`
	MaxConcurrentNavs     int    `mapstructure:"max_concurrent_navigations"`
	PerHostConcurrency    int    `mapstructure:"per_host_concurrency"`
	MinDelayMs            int    `mapstructure:"min_delay_ms"`
	MaxDelayMs            int    `mapstructure:"max_delay_ms"`
}

// ResourceConfig is the `resource` config block of §6.
type ResourceConfig struct {
	SampleIntervalMs int     `mapstructure:"sample_interval_ms"`
	RSSWarning       uint64  `mapstructure:"rss_warning"`
	RSSCritical      uint64  `mapstructure:"rss_critical"`
	RSSAction        uint64  `mapstructure:"rss_action"`
	CPUWarning       float64 `mapstructure:"cpu_warning"`
	CPUCritical      float64 `mapstructure:"cpu_critical"`
}

// LedgerConfig is the `ledger` config block of §6.
type LedgerConfig struct {
	RootPath       string `mapstructure:"root_path"`
	RotateSizeBytes int64 `mapstructure:"rotate_size_bytes"`
}

// LoggingConfig is the `logging` config block of §6.
type LoggingConfig struct {
	Level      string   `mapstructure:"level"`
	Transports []string `mapstructure:"transports"`
}

// Config is the fully-resolved, typed configuration tree.
type Config struct {
	Version   uint64
	DataRoot  string          `mapstructure:"data_root"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Resource  ResourceConfig  `mapstructure:"resource"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// schedulerProfiles are the named presets of §4.3 step 1.
var schedulerProfiles = map[string]SchedulerConfig{
	"single":     {Profile: "single", MaxConcurrentNavs: 1, PerHostConcurrency: 1, MinDelayMs: 1000, MaxDelayMs: 300000},
	"stealth":    {Profile: "stealth", MaxConcurrentNavs: 3, PerHostConcurrency: 1, MinDelayMs: 500, MaxDelayMs: 300000},
	"balanced":   {Profile: "balanced", MaxConcurrentNavs: 5, PerHostConcurrency: 2, MinDelayMs: 100, MaxDelayMs: 300000},
	"aggressive": {Profile: "aggressive", MaxConcurrentNavs: 10, PerHostConcurrency: 4, MinDelayMs: 0, MaxDelayMs: 300000},
}

// ProfileDefaults returns the named scheduler profile, or the
// "balanced" profile if name is unrecognized.
func ProfileDefaults(name string) SchedulerConfig {
	if p, ok := schedulerProfiles[name]; ok {
		return p
	}
	return schedulerProfiles["balanced"]
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_root", "./data")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.auth_enabled", false)
	v.SetDefault("server.max_connections", 64)
	v.SetDefault("server.tls_enabled", false)
	v.SetDefault("server.tls_auto_generate", false)

	bal := schedulerProfiles["balanced"]
	v.SetDefault("scheduler.profile", bal.Profile)
	v.SetDefault("scheduler.max_concurrent_navigations", bal.MaxConcurrentNavs)
	v.SetDefault("scheduler.per_host_concurrency", bal.PerHostConcurrency)
	v.SetDefault("scheduler.min_delay_ms", bal.MinDelayMs)
	v.SetDefault("scheduler.max_delay_ms", bal.MaxDelayMs)

	v.SetDefault("resource.sample_interval_ms", 5000)
	v.SetDefault("resource.rss_warning", uint64(1<<30))
	v.SetDefault("resource.rss_critical", uint64(2<<30))
	v.SetDefault("resource.rss_action", uint64(3<<30))
	v.SetDefault("resource.cpu_warning", 70.0)
	v.SetDefault("resource.cpu_critical", 90.0)

	v.SetDefault("ledger.root_path", "./data/evidence")
	v.SetDefault("ledger.rotate_size_bytes", int64(64<<20))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.transports", []string{"console"})
}

// Resolver owns the live viper instance and publishes Snapshots
// (here, *Config values) behind an atomic.Pointer so readers never
// observe a torn config during a reload.
type Resolver struct {
	v       *viper.Viper
	current atomic.Pointer[Config]
}

// NewResolver builds a Resolver layered as defaults < file < env <
// flags. configPath may be empty (defaults + env + flags only).
func NewResolver(configPath string) (*Resolver, error) {
	v := viper.New()
	setDefaults(v)
	// Environment variables use the double-underscore path form from
	// §6, e.g. SERVER__PORT, SCHEDULER__PROFILE, AUTH__TOKEN.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	r := &Resolver{v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// BindFlags layers command-line flags (highest precedence below
// explicit runtime overrides) onto the resolver's viper instance, then
// republishes a Snapshot reflecting the bound values.
func (r *Resolver) BindFlags(flags *pflag.FlagSet) error {
	if err := r.v.BindPFlags(flags); err != nil {
		return err
	}
	return r.reload()
}

// SetRuntimeOverride applies a highest-precedence runtime override
// (spec §4.10's topmost layer) and republishes a Snapshot.
func (r *Resolver) SetRuntimeOverride(key string, value any) error {
	r.v.Set(key, value)
	return r.reload()
}

func (r *Resolver) reload() error {
	var next Config
	if err := r.v.Unmarshal(&next); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	prev := r.current.Load()
	next.Version = 1
	if prev != nil {
		next.Version = prev.Version + 1
	}
	r.current.Store(&next)
	return nil
}

// Snapshot returns the current immutable configuration. Safe for
// concurrent use; the returned pointer is never mutated in place.
func (r *Resolver) Snapshot() *Config {
	return r.current.Load()
}

// Watch enables viper's fsnotify-backed file watch; onChange fires
// with the newly published Snapshot after each reload. Watch mode
// never panics on a malformed reload — it logs and keeps serving the
// previous Snapshot (callers distinguish via the returned error from
// a side channel if they need it; here we simply skip the publish).
func (r *Resolver) Watch(onChange func(*Config)) {
	r.v.OnConfigChange(func(_ fsnotify.Event) {
		if err := r.reload(); err != nil {
			return
		}
		if onChange != nil {
			onChange(r.Snapshot())
		}
	})
	r.v.WatchConfig()
}
