package platform

import (
	"fmt"
	"time"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// Change source modes.
const (
	ModeAuto = "auto" // native route/link notifications, polling as fallback
	ModePoll = "poll" // polling only
)

// Config controls the host adapter.
type Config struct {
	Mode               string        `mapstructure:"mode"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	ResolveTimeout     time.Duration `mapstructure:"resolve_timeout"`
	MinRecheckInterval time.Duration `mapstructure:"min_recheck_interval"`
}

// DefaultConfig returns the adapter defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeAuto,
		PollInterval:       5 * time.Second,
		ResolveTimeout:     2 * time.Second,
		MinRecheckInterval: 250 * time.Millisecond,
	}
}

// ConfigFrom reads the adapter settings from the "platform" config subtree,
// keeping defaults for unset keys.
func ConfigFrom(cfg plugin.Config) (Config, error) {
	c := DefaultConfig()
	if cfg == nil {
		return c, nil
	}
	if v := cfg.GetString("mode"); v != "" {
		c.Mode = v
	}
	if cfg.IsSet("poll_interval") {
		c.PollInterval = cfg.GetDuration("poll_interval")
	}
	if cfg.IsSet("resolve_timeout") {
		c.ResolveTimeout = cfg.GetDuration("resolve_timeout")
	}
	if cfg.IsSet("min_recheck_interval") {
		c.MinRecheckInterval = cfg.GetDuration("min_recheck_interval")
	}
	return c, c.Validate()
}

// Validate rejects settings the adapter cannot run with.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAuto, ModePoll:
	default:
		return fmt.Errorf("platform: unknown mode %q", c.Mode)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("platform: poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("platform: resolve_timeout must be positive, got %s", c.ResolveTimeout)
	}
	if c.MinRecheckInterval < 0 {
		return fmt.Errorf("platform: min_recheck_interval must not be negative, got %s", c.MinRecheckInterval)
	}
	return nil
}
