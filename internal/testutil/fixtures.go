package testutil

import (
	"github.com/spf13/viper"

	"github.com/HerbHall/netreach/internal/config"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// NewConfig returns a plugin.Config holding NetReach's defaults with values
// set on top. Keys use viper's dotted form.
func NewConfig(values map[string]any) plugin.Config {
	v := viper.New()
	config.SetDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return config.New(v)
}

// HostTarget is a reachability.targets entry for a hostname.
func HostTarget(name, host string) map[string]any {
	return map[string]any{"name": name, "host": host}
}

// AddressTarget is a reachability.targets entry for an "ip:port" address.
func AddressTarget(name, addr string) map[string]any {
	return map[string]any{"name": name, "address": addr}
}

// InternetTarget is a reachability.targets entry for the default route.
func InternetTarget(name string) map[string]any {
	return map[string]any{"name": name, "internet": true}
}
