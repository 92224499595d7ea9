package commandstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

// MemoryStore is an in-memory Store for tests and in-process mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]*Record
}

// NewMemory creates an empty in-memory command store.
func NewMemory() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*Record)}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(ctx context.Context, cmd domain.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.records[cmd.ID]; ok {
		if existing.Command.Status == domain.CommandStatusPending {
			existing.Command.Payload = cmd.Payload
			existing.Command.Metadata = cmd.Metadata
			existing.UpdatedAt = now
		}
		return nil
	}
	s.records[cmd.ID] = &Record{Command: cmd, CreatedAt: now, UpdatedAt: now}
	return nil
}

// MarkStatus implements Store.
func (s *MemoryStore) MarkStatus(ctx context.Context, id uuid.UUID, status domain.CommandStatus, result *domain.DispatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Command.Status != domain.CommandStatusPending {
		return apperrors.Internal(apperrors.CodeCommandNotFound,
			fmt.Sprintf("command %s is not pending", id), nil)
	}
	rec.Command.Status = status
	rec.Result = result
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, apperrors.Internal(apperrors.CodeCommandNotFound,
			fmt.Sprintf("command %s not found", id), nil)
	}
	cp := *rec
	return &cp, nil
}

// Query implements Store.
func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if filter.TenantID != uuid.Nil && rec.Command.TenantID != filter.TenantID {
			continue
		}
		if filter.Type != "" && rec.Command.Type != filter.Type {
			continue
		}
		if filter.Status != "" && rec.Command.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && rec.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !rec.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteTerminalBefore implements Store.
func (s *MemoryStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, rec := range s.records {
		if rec.Command.Status == domain.CommandStatusPending {
			continue
		}
		if rec.UpdatedAt.Before(cutoff) {
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}
