// Package http holds the contracts between the composition root, the router
// and the domain modules.
package http

import (
	"context"

	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

// RouterConfig is the slice of configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
}

// HealthChecker is satisfied by the pgx pool and redis adapters.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in cmd/api and handed to router.New.
type App struct {
	Config RouterConfig
	Logger *logger.Logger
	// Health maps a dependency name to its probe; /api/health reports each one.
	Health  map[string]HealthChecker
	Modules []Module
}
