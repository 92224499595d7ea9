// Package modules contains the domain-oriented dependency units wired by
// the composition root. Each domain ships one Module that contributes its
// registrations and background workers.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"loomworks.io/loom/internal/registry"
)

// Module is one domain-specific dependency unit.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// RegisterDomain contributes aggregate factories, handlers, type
	// metadata, sagas, and projections. Runs once, before the registry
	// freezes.
	RegisterDomain(*registry.Registry) error

	// RegisterWorkers registers module workers into the shared River
	// worker registry.
	RegisterWorkers(*river.Workers)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}
