package modules

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"

	"loomworks.io/loom/internal/domain"
	"loomworks.io/loom/internal/domains/ordering"
	"loomworks.io/loom/internal/registry"
)

// OrderingModule wires the built-in ordering domain.
type OrderingModule struct {
	shipDelay  time.Duration
	projection domain.Projection
}

// NewOrderingModule builds the module. pool may be nil, in which case the
// read model runs in memory.
func NewOrderingModule(pool *pgxpool.Pool, shipDelay time.Duration) *OrderingModule {
	var projection domain.Projection
	if pool != nil {
		projection = ordering.NewSummaryProjection(pool)
	} else {
		projection = ordering.NewMemorySummaryProjection()
	}
	return &OrderingModule{shipDelay: shipDelay, projection: projection}
}

// Name implements Module.
func (m *OrderingModule) Name() string { return ordering.DomainName }

// RegisterDomain implements Module.
func (m *OrderingModule) RegisterDomain(reg *registry.Registry) error {
	return ordering.Register(reg, ordering.Options{
		ShipDelay:  m.shipDelay,
		Projection: m.projection,
	})
}

// RegisterWorkers implements Module. The ordering domain has no workers of
// its own; the core's delayed-dispatch job serves it.
func (m *OrderingModule) RegisterWorkers(*river.Workers) {}

// Shutdown implements Module.
func (m *OrderingModule) Shutdown(context.Context) error { return nil }
