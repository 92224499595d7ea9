// Package commandstore records submitted commands and their terminal status
// for auditability, idempotent resubmission checks, and at-least-once
// redelivery of work that never reached a terminal state.
package commandstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
)

// Filter narrows a Query. Zero values mean "any".
type Filter struct {
	TenantID uuid.UUID
	Type     string
	Status   domain.CommandStatus
	Since    time.Time

	// UpdatedBefore selects rows untouched since the given instant. The
	// redelivery sweep uses it to find stuck pending commands.
	UpdatedBefore time.Time

	Limit int
}

// Record is a stored command plus bookkeeping.
type Record struct {
	Command   domain.Command
	Result    *domain.DispatchResult
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the command store contract. MarkStatus is the only path that
// flips a command out of pending; it is called exactly once per command by
// whichever component drives the command to completion.
type Store interface {
	Upsert(ctx context.Context, cmd domain.Command) error
	MarkStatus(ctx context.Context, id uuid.UUID, status domain.CommandStatus, result *domain.DispatchResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*Record, error)
	Query(ctx context.Context, filter Filter) ([]Record, error)

	// DeleteTerminalBefore removes consumed/failed commands older than
	// cutoff. Retention policy, not part of the dispatch path.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
