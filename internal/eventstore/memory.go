package eventstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loomworks.io/loom/internal/domain"
)

// MemoryStore is an in-memory Store with the same semantics as the Postgres
// implementation. Used by tests and by the router's in-process mode.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string]*memStream
}

type memStream struct {
	version  int64
	events   []domain.Event
	snapshot *domain.Snapshot
}

// NewMemory creates an empty in-memory event store.
func NewMemory() *MemoryStore {
	return &MemoryStore{streams: make(map[string]*memStream)}
}

func streamKey(ref StreamRef) string {
	return fmt.Sprintf("%s|%s|%s", ref.TenantID, ref.AggregateType, ref.AggregateID)
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, ref StreamRef, events []domain.Event, expectedVersion int64, snapshot *domain.Snapshot) error {
	if len(events) == 0 && snapshot == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := streamKey(ref)
	stream, ok := s.streams[key]
	if !ok {
		stream = &memStream{}
	}
	if stream.version != expectedVersion {
		return conflictErr(ref, expectedVersion, stream.version)
	}

	appended := make([]domain.Event, len(events))
	for i, ev := range events {
		ev.Version = expectedVersion + int64(i)
		ev.TenantID = ref.TenantID
		ev.AggregateID = ref.AggregateID
		ev.AggregateType = ref.AggregateType
		appended[i] = ev
	}
	stream.events = append(stream.events, appended...)
	stream.version = expectedVersion + int64(len(events))
	if snapshot != nil {
		cp := *snapshot
		cp.CreatedAt = time.Now().UTC()
		stream.snapshot = &cp
	}
	s.streams[key] = stream
	return nil
}

// Load implements Store.
func (s *MemoryStore) Load(ctx context.Context, ref StreamRef, fromVersion int64) (*LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[streamKey(ref)]
	if !ok {
		return nil, nil
	}

	result := &LoadResult{Version: fromVersion}
	if stream.version > result.Version {
		result.Version = stream.version
	}
	for _, ev := range stream.events {
		if ev.Version >= fromVersion {
			result.Events = append(result.Events, ev)
		}
	}
	return result, nil
}

// LoadSnapshot implements Store.
func (s *MemoryStore) LoadSnapshot(ctx context.Context, ref StreamRef) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stream, ok := s.streams[streamKey(ref)]
	if !ok || stream.snapshot == nil {
		return nil, nil
	}
	cp := *stream.snapshot
	return &cp, nil
}
