// Package plugin defines the contracts shared by NetReach modules: the plugin
// lifecycle, the event bus, configuration access and storage.
package plugin

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Plugin API versions understood by the registry.
const (
	APIVersionMin     = 1
	APIVersionCurrent = 1
)

// PluginInfo describes a plugin to the registry.
type PluginInfo struct {
	Name         string
	Version      string
	Description  string
	Dependencies []string
	// Required plugins abort startup when they fail; optional ones are disabled.
	Required   bool
	APIVersion int
}

// Dependencies are the shared services handed to each plugin at Init.
type Dependencies struct {
	Config Config
	Logger *zap.Logger
	Bus    EventBus
	Store  Store
	// Plugins looks up other registered plugins by name.
	Plugins PluginResolver
}

// PluginResolver gives plugins access to their declared dependencies.
type PluginResolver interface {
	Get(name string) (Plugin, bool)
}

// Plugin defines the interface that all NetReach modules must implement.
type Plugin interface {
	// Info returns the plugin's identity and dependency declaration.
	Info() PluginInfo

	// Init wires the plugin to its dependencies. No background work yet.
	Init(ctx context.Context, deps Dependencies) error

	// Start begins the plugin's background operations.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the plugin.
	Stop(ctx context.Context) error
}

// Route represents an HTTP route exposed by a plugin.
type Route struct {
	Method  string
	Path    string
	Handler http.HandlerFunc
}

// HealthStatus is reported by plugins implementing HealthChecker.
type HealthStatus struct {
	Status  string            `json:"status"` // "healthy", "degraded", "unhealthy"
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}
