package ordering

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"loomworks.io/loom/internal/domain"
)

// ProjectionName identifies the order summary read model.
const ProjectionName = "order-summary"

// OrderSummary is one read-model row.
type OrderSummary struct {
	TenantID  uuid.UUID
	OrderID   uuid.UUID
	Status    string
	ItemCount int
	Total     float64
	Currency  string
}

func supportsOrderEvent(ev domain.Event) bool {
	switch ev.Type {
	case EvtCreated, EvtItemAdded, EvtConfirmed, EvtCancelled, EvtShipped:
		return true
	}
	return false
}

// SummaryProjection maintains the order_summaries table.
type SummaryProjection struct {
	pool *pgxpool.Pool
}

// NewSummaryProjection creates the pgx-backed projection.
func NewSummaryProjection(pool *pgxpool.Pool) *SummaryProjection {
	return &SummaryProjection{pool: pool}
}

// Name implements domain.Projection.
func (p *SummaryProjection) Name() string { return ProjectionName }

// SupportsEvent implements domain.Projection.
func (p *SummaryProjection) SupportsEvent(ev domain.Event) bool { return supportsOrderEvent(ev) }

// On implements domain.Projection. Each statement is idempotent under
// redelivery: creation upserts, increments are the only non-idempotent
// step and tolerate at-least-once as approximate counters.
func (p *SummaryProjection) On(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case EvtCreated:
		currency, _ := ev.Payload.String("currency")
		_, err := p.pool.Exec(ctx, `
			INSERT INTO order_summaries (tenant_id, order_id, status, currency)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, order_id) DO UPDATE
			SET status = EXCLUDED.status, currency = EXCLUDED.currency, updated_at = now()`,
			ev.TenantID, ev.AggregateID, StatusOpen, currency,
		)
		return err
	case EvtItemAdded:
		qty := intFromPayload(ev.Payload, "quantity", 1)
		price := firstFloat(ev.Payload, "price")
		_, err := p.pool.Exec(ctx, `
			UPDATE order_summaries
			SET item_count = item_count + $1, total = total + $2, updated_at = now()
			WHERE tenant_id = $3 AND order_id = $4`,
			qty, price*float64(qty), ev.TenantID, ev.AggregateID,
		)
		return err
	default:
		_, err := p.pool.Exec(ctx, `
			UPDATE order_summaries
			SET status = $1, updated_at = now()
			WHERE tenant_id = $2 AND order_id = $3`,
			statusForEvent(ev.Type), ev.TenantID, ev.AggregateID,
		)
		return err
	}
}

// GetSummary reads one row, for the API's read side.
func (p *SummaryProjection) GetSummary(ctx context.Context, tenantID, orderID uuid.UUID) (*OrderSummary, error) {
	var s OrderSummary
	err := p.pool.QueryRow(ctx, `
		SELECT tenant_id, order_id, status, item_count, total, currency
		FROM order_summaries WHERE tenant_id = $1 AND order_id = $2`,
		tenantID, orderID,
	).Scan(&s.TenantID, &s.OrderID, &s.Status, &s.ItemCount, &s.Total, &s.Currency)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func statusForEvent(evType string) string {
	switch evType {
	case EvtConfirmed:
		return StatusConfirmed
	case EvtCancelled:
		return StatusCancelled
	case EvtShipped:
		return StatusShipped
	}
	return StatusOpen
}

// MemorySummaryProjection is the in-memory variant for tests and
// in-process mode.
type MemorySummaryProjection struct {
	mu   sync.Mutex
	rows map[[2]uuid.UUID]*OrderSummary
}

// NewMemorySummaryProjection creates an empty in-memory projection.
func NewMemorySummaryProjection() *MemorySummaryProjection {
	return &MemorySummaryProjection{rows: make(map[[2]uuid.UUID]*OrderSummary)}
}

// Name implements domain.Projection.
func (p *MemorySummaryProjection) Name() string { return ProjectionName }

// SupportsEvent implements domain.Projection.
func (p *MemorySummaryProjection) SupportsEvent(ev domain.Event) bool { return supportsOrderEvent(ev) }

// On implements domain.Projection.
func (p *MemorySummaryProjection) On(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := [2]uuid.UUID{ev.TenantID, ev.AggregateID}
	row, ok := p.rows[key]
	if !ok {
		row = &OrderSummary{TenantID: ev.TenantID, OrderID: ev.AggregateID, Status: StatusOpen}
		p.rows[key] = row
	}
	switch ev.Type {
	case EvtCreated:
		row.Status = StatusOpen
		row.Currency, _ = ev.Payload.String("currency")
	case EvtItemAdded:
		qty := intFromPayload(ev.Payload, "quantity", 1)
		row.ItemCount += qty
		row.Total += firstFloat(ev.Payload, "price") * float64(qty)
	default:
		row.Status = statusForEvent(ev.Type)
	}
	return nil
}

// GetSummary reads one row copy.
func (p *MemorySummaryProjection) GetSummary(tenantID, orderID uuid.UUID) (*OrderSummary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	row, ok := p.rows[[2]uuid.UUID{tenantID, orderID}]
	if !ok {
		return nil, false
	}
	cp := *row
	return &cp, true
}
