// Package registry is the process-wide catalog of domain types: aggregate
// factories, command/event handlers, command/event type metadata, saga
// definitions, projections, and role lists.
//
// The registry describes types, not instances, so it has no tenant scoping.
// It is populated once during startup by each domain module's registration
// routine, frozen, and then only read. Registering the same key twice is a
// programming error and fails loudly: silent overwrite would hide domain
// conflicts.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

// AggregateRouting teaches the router which aggregate a command type
// targets without the caller spelling it out.
type AggregateRouting struct {
	AggregateType string

	// ExtractID pulls the target aggregate id out of the payload.
	ExtractID func(p domain.Payload) (uuid.UUID, bool)
}

// CommandTypeMeta describes one registered command type.
type CommandTypeMeta struct {
	Type        string
	Domain      string
	Description string

	// PayloadSchema validates the command payload before dispatch.
	// nil skips validation for this type.
	PayloadSchema *openapi3.Schema

	// Routing is set when commands of this type are aggregate-bound.
	Routing *AggregateRouting
}

// EventTypeMeta describes one registered event type.
type EventTypeMeta struct {
	Type          string
	Domain        string
	Description   string
	PayloadSchema *openapi3.Schema
}

// CommandHandler applies a command to a loaded aggregate.
type CommandHandler struct {
	Name string

	// SupportsCommand reports whether this handler owns cmdType. The
	// registry enforces at most one owner per registered command type.
	SupportsCommand func(cmdType string) bool

	// Handle delegates to the aggregate; it must not perform I/O.
	Handle func(ctx context.Context, cmd domain.Command, agg domain.Aggregate) ([]domain.Event, error)
}

// EventHandler reacts to an event outside the aggregate itself.
type EventHandler struct {
	Name          string
	SupportsEvent func(ev domain.Event) bool
	Handle        func(ctx context.Context, ev domain.Event) error
}

// DomainInfo names a registered domain.
type DomainInfo struct {
	Name        string
	Description string
}

// Registry is the immutable-after-freeze catalog.
type Registry struct {
	mu     sync.RWMutex
	frozen bool

	domains         map[string]DomainInfo
	aggregates      map[string]domain.AggregateFactory
	commandHandlers map[string]CommandHandler
	eventHandlers   map[string]EventHandler
	sagas           map[string]domain.SagaDefinition
	commandTypes    map[string]CommandTypeMeta
	eventTypes      map[string]EventTypeMeta
	projections     map[string]domain.Projection
	roles           map[string][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		domains:         make(map[string]DomainInfo),
		aggregates:      make(map[string]domain.AggregateFactory),
		commandHandlers: make(map[string]CommandHandler),
		eventHandlers:   make(map[string]EventHandler),
		sagas:           make(map[string]domain.SagaDefinition),
		commandTypes:    make(map[string]CommandTypeMeta),
		eventTypes:      make(map[string]EventTypeMeta),
		projections:     make(map[string]domain.Projection),
		roles:           make(map[string][]string),
	}
}

func duplicate(kind, key string) error {
	return apperrors.Internal(apperrors.CodeDuplicateRegistration,
		fmt.Sprintf("%s %q registered twice", kind, key), nil)
}

func (r *Registry) guard(kind, key string) error {
	if r.frozen {
		return apperrors.Internal(apperrors.CodeRegistryFrozen,
			fmt.Sprintf("cannot register %s %q after freeze", kind, key), nil)
	}
	return nil
}

// RegisterDomain records a domain's presence.
func (r *Registry) RegisterDomain(info DomainInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("domain", info.Name); err != nil {
		return err
	}
	if _, ok := r.domains[info.Name]; ok {
		return duplicate("domain", info.Name)
	}
	r.domains[info.Name] = info
	return nil
}

// RegisterAggregate records the factory for an aggregate type.
func (r *Registry) RegisterAggregate(aggregateType string, factory domain.AggregateFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("aggregate", aggregateType); err != nil {
		return err
	}
	if _, ok := r.aggregates[aggregateType]; ok {
		return duplicate("aggregate", aggregateType)
	}
	r.aggregates[aggregateType] = factory
	return nil
}

// RegisterCommandHandler records a handler. At-most-one handler per command
// type is enforced here, against every command type registered so far.
func (r *Registry) RegisterCommandHandler(h CommandHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("command handler", h.Name); err != nil {
		return err
	}
	if _, ok := r.commandHandlers[h.Name]; ok {
		return duplicate("command handler", h.Name)
	}
	for cmdType := range r.commandTypes {
		if !h.SupportsCommand(cmdType) {
			continue
		}
		for _, other := range r.commandHandlers {
			if other.SupportsCommand(cmdType) {
				return apperrors.Internal(apperrors.CodeDuplicateRegistration,
					fmt.Sprintf("command type %q claimed by both %q and %q", cmdType, other.Name, h.Name), nil)
			}
		}
	}
	r.commandHandlers[h.Name] = h
	return nil
}

// RegisterEventHandler records an event handler.
func (r *Registry) RegisterEventHandler(h EventHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("event handler", h.Name); err != nil {
		return err
	}
	if _, ok := r.eventHandlers[h.Name]; ok {
		return duplicate("event handler", h.Name)
	}
	r.eventHandlers[h.Name] = h
	return nil
}

// RegisterSaga records a saga definition keyed by scope.
func (r *Registry) RegisterSaga(def domain.SagaDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("saga", def.Scope); err != nil {
		return err
	}
	if _, ok := r.sagas[def.Scope]; ok {
		return duplicate("saga", def.Scope)
	}
	r.sagas[def.Scope] = def
	return nil
}

// RegisterCommandType records command type metadata. Rejects types already
// claimed by more than one registered handler.
func (r *Registry) RegisterCommandType(meta CommandTypeMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("command type", meta.Type); err != nil {
		return err
	}
	if _, ok := r.commandTypes[meta.Type]; ok {
		return duplicate("command type", meta.Type)
	}
	var owners []string
	for _, h := range r.commandHandlers {
		if h.SupportsCommand(meta.Type) {
			owners = append(owners, h.Name)
		}
	}
	if len(owners) > 1 {
		return apperrors.Internal(apperrors.CodeDuplicateRegistration,
			fmt.Sprintf("command type %q claimed by handlers %v", meta.Type, owners), nil)
	}
	r.commandTypes[meta.Type] = meta
	return nil
}

// RegisterEventType records event type metadata.
func (r *Registry) RegisterEventType(meta EventTypeMeta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("event type", meta.Type); err != nil {
		return err
	}
	if _, ok := r.eventTypes[meta.Type]; ok {
		return duplicate("event type", meta.Type)
	}
	r.eventTypes[meta.Type] = meta
	return nil
}

// RegisterProjection records a projection.
func (r *Registry) RegisterProjection(p domain.Projection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("projection", p.Name()); err != nil {
		return err
	}
	if _, ok := r.projections[p.Name()]; ok {
		return duplicate("projection", p.Name())
	}
	r.projections[p.Name()] = p
	return nil
}

// RegisterRoles records the role list for a domain.
func (r *Registry) RegisterRoles(domainName string, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.guard("roles", domainName); err != nil {
		return err
	}
	if _, ok := r.roles[domainName]; ok {
		return duplicate("roles", domainName)
	}
	r.roles[domainName] = append([]string(nil), roles...)
	return nil
}

// Freeze forbids further registration. Called once at the end of startup.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// AggregateFactory returns the factory for aggregateType.
func (r *Registry) AggregateFactory(aggregateType string) (domain.AggregateFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.aggregates[aggregateType]
	return f, ok
}

// CommandType returns metadata for cmdType.
func (r *Registry) CommandType(cmdType string) (CommandTypeMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.commandTypes[cmdType]
	return m, ok
}

// EventType returns metadata for evType.
func (r *Registry) EventType(evType string) (EventTypeMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.eventTypes[evType]
	return m, ok
}

// HandlerFor returns the one handler that supports cmdType.
func (r *Registry) HandlerFor(cmdType string) (CommandHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.commandHandlers {
		if h.SupportsCommand(cmdType) {
			return h, true
		}
	}
	return CommandHandler{}, false
}

// Saga returns the saga definition for scope.
func (r *Registry) Saga(scope string) (domain.SagaDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.sagas[scope]
	return def, ok
}

// AllDomains returns the registered domains sorted by name.
func (r *Registry) AllDomains() []DomainInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DomainInfo, 0, len(r.domains))
	for _, d := range r.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllCommandTypes returns registered command type metadata sorted by type.
func (r *Registry) AllCommandTypes() []CommandTypeMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CommandTypeMeta, 0, len(r.commandTypes))
	for _, m := range r.commandTypes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// AllEventTypes returns registered event type metadata sorted by type.
func (r *Registry) AllEventTypes() []EventTypeMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventTypeMeta, 0, len(r.eventTypes))
	for _, m := range r.eventTypes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// AllSagas returns registered saga definitions sorted by scope.
func (r *Registry) AllSagas() []domain.SagaDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SagaDefinition, 0, len(r.sagas))
	for _, def := range r.sagas {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

// AllEventHandlers returns registered event handlers sorted by name.
func (r *Registry) AllEventHandlers() []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventHandler, 0, len(r.eventHandlers))
	for _, h := range r.eventHandlers {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AllProjections returns registered projections sorted by name.
func (r *Registry) AllProjections() []domain.Projection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Projection, 0, len(r.projections))
	for _, p := range r.projections {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Roles returns the role list for domainName.
func (r *Registry) Roles(domainName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.roles[domainName]...)
}
