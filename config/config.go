// Package config loads the broker's process-level configuration, mirroring
// the teacher's cmd/cmd.go config.LoadConfig() shape: pflag-declared flags,
// layered with viper over a YAML file and environment variables, with
// fsnotify-driven hot reload of the long-poll and GC timing knobs that are
// safe to change at runtime.
package config

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the ambient stack's configuration surface (spec.md §6's
// external interfaces plus the timing knobs named in §4.6/§4.7).
type Config struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	SharedSecret string `mapstructure:"shared_secret"`

	WakeConnectionsAfter time.Duration `mapstructure:"wake_connections_after"`
	DrainInterval        time.Duration `mapstructure:"drain_interval"`
	GCInterval           time.Duration `mapstructure:"gc_interval"`
	GCConnsAfter         time.Duration `mapstructure:"gc_conns_after"`

	// DefaultHistorySize is loaded but not read by the registry: channels
	// created without a history_size use model.DefaultHistorySize.
	DefaultHistorySize int `mapstructure:"default_history_size"`
}

func defaults() Config {
	return Config{
		ListenAddr:           ":8000",
		WakeConnectionsAfter: 3 * time.Second,
		DrainInterval:        250 * time.Millisecond,
		GCInterval:           30 * time.Second,
		GCConnsAfter:         120 * time.Second,
		DefaultHistorySize:   10,
	}
}

// Flags registers the pflag set this config binds to, for use by the
// cmd package's urfave/cli flag list.
func Flags() *pflag.FlagSet {
	d := defaults()
	fs := pflag.NewFlagSet("channelstream", pflag.ContinueOnError)
	fs.String("listen-addr", d.ListenAddr, "HTTP listen address")
	fs.String("shared-secret", d.SharedSecret, "shared secret required on privileged endpoints")
	fs.Duration("wake-connections-after", d.WakeConnectionsAfter, "long-poll primary wait")
	fs.Duration("drain-interval", d.DrainInterval, "long-poll drain-window pull timeout")
	fs.Duration("gc-interval", d.GCInterval, "idle connection sweep cadence")
	fs.Duration("gc-conns-after", d.GCConnsAfter, "idle threshold before a connection is reaped")
	fs.Int("default-history-size", d.DefaultHistorySize, "default per-channel history size")
	return fs
}

// Load builds a Config from defaults, an optional config file, environment
// variables (CHANNELSTREAM_*), and finally flags, in increasing priority.
// It also returns the viper.Viper instance backing it, so the caller can
// hand it to WatchReload when configFile is set.
func Load(configFile string, flags *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	cfg := defaults()

	v.SetEnvPrefix("channelstream")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, v, nil
}

// Live holds the subset of Config that may be changed without a restart:
// the long-poll wait/drain timings and the GC cadence/idle threshold.
// Identity settings (ListenAddr, SharedSecret) are intentionally excluded
// — those take effect only at process start. Callers that need to react
// to a reload (the long-poll handler, the GC sweeper) hold a *Live and
// call Get() fresh on every request/tick instead of capturing a Config
// value once at construction time.
type Live struct {
	v atomic.Pointer[Config]
}

// NewLive seeds a Live with initial.
func NewLive(initial *Config) *Live {
	l := &Live{}
	l.v.Store(initial)
	return l
}

// Get returns the current config snapshot.
func (l *Live) Get() *Config {
	return l.v.Load()
}

func (l *Live) store(c *Config) {
	l.v.Store(c)
}

// WatchReload installs an fsnotify watch (via viper) on the config file
// backing v, and on every change re-unmarshals it into live. It is a
// no-op if v has no config file set — callers should only invoke it when
// Load was given a configFile.
func WatchReload(v *viper.Viper, live *Live, onReload func(*Config)) {
	v.OnConfigChange(func(_ fsnotify.Event) {
		next := defaults()
		if err := v.Unmarshal(&next); err != nil {
			return
		}
		live.store(&next)
		if onReload != nil {
			onReload(&next)
		}
	})
	v.WatchConfig()
}
