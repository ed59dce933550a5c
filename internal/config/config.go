// Package config loads NetReach settings with viper and exposes them to
// plugins through the plugin.Config interface.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// EnvPrefix is prepended to environment overrides, e.g. NETREACH_SERVER_PORT.
const EnvPrefix = "NETREACH"

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// Load reads configuration from path, or from netreach.yaml in the working
// directory and /etc/netreach when path is empty. A missing default file is
// not an error.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("netreach")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/netreach")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults registers every key NetReach reads, so env overrides apply
// even when the file omits them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")

	v.SetDefault("reachability.trace_flags", false)
	v.SetDefault("reachability.targets", []map[string]any{
		{"name": "internet", "internet": true},
	})

	v.SetDefault("platform.mode", "auto")
	v.SetDefault("platform.poll_interval", 5*time.Second)
	v.SetDefault("platform.resolve_timeout", 2*time.Second)
	v.SetDefault("platform.min_recheck_interval", 250*time.Millisecond)

	v.SetDefault("plugins.reachability.enabled", true)
	v.SetDefault("plugins.history.enabled", true)
	v.SetDefault("plugins.notify.enabled", false)

	v.SetDefault("history.path", "netreach.db")
	v.SetDefault("history.retention", 720*time.Hour)

	v.SetDefault("notify.mqtt.broker", "")
	v.SetDefault("notify.mqtt.topic_prefix", "netreach")
	v.SetDefault("notify.mqtt.client_id", "")
	v.SetDefault("notify.mqtt.timeout", 5*time.Second)
	v.SetDefault("notify.mqtt.qos", 1)
}

// ViperConfig adapts a *viper.Viper to plugin.Config. A nil viper behaves as
// an empty configuration.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *ViperConfig {
	if v == nil {
		v = viper.New()
	}
	return &ViperConfig{v: v}
}

func (c *ViperConfig) GetString(key string) string               { return c.v.GetString(key) }
func (c *ViperConfig) GetInt(key string) int                     { return c.v.GetInt(key) }
func (c *ViperConfig) GetBool(key string) bool                   { return c.v.GetBool(key) }
func (c *ViperConfig) GetDuration(key string) time.Duration      { return c.v.GetDuration(key) }
func (c *ViperConfig) GetStringSlice(key string) []string        { return c.v.GetStringSlice(key) }
func (c *ViperConfig) IsSet(key string) bool                     { return c.v.IsSet(key) }
func (c *ViperConfig) Unmarshal(target any) error                { return c.v.Unmarshal(target) }
func (c *ViperConfig) UnmarshalKey(key string, target any) error { return c.v.UnmarshalKey(key, target) }

// Sub returns the subtree at key. A missing key yields an empty Config,
// never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	return New(c.v.Sub(key))
}

// Viper exposes the underlying instance.
func (c *ViperConfig) Viper() *viper.Viper { return c.v }
