package domain

import "context"

// Projection consumes appended events to maintain a read model. The core
// does not know or care how a projection persists its state; failures are
// logged and never roll back the append that produced the event.
type Projection interface {
	// Name identifies the projection in logs and the registry.
	Name() string

	// SupportsEvent reports whether On should be called for ev.
	SupportsEvent(ev Event) bool

	// On folds one event into the read model.
	On(ctx context.Context, ev Event) error
}
