package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

// uniqueViolation is the Postgres error code for duplicate key. The unique
// index on (tenant_id, aggregate_type, aggregate_id, version) is the
// backstop if two appenders race past the head check.
const uniqueViolation = "23505"

// PostgresStore persists event streams in the events/aggregates tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed event store on the shared pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append implements Store.
func (s *PostgresStore) Append(ctx context.Context, ref StreamRef, events []domain.Event, expectedVersion int64, snapshot *domain.Snapshot) error {
	if len(events) == 0 && snapshot == nil {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "begin append tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Ensure the head row exists so the guarded update below is the
	// single concurrency gate for first and later appends alike.
	if _, err := tx.Exec(ctx, `
		INSERT INTO aggregates (tenant_id, aggregate_type, aggregate_id, version)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (tenant_id, aggregate_type, aggregate_id) DO NOTHING`,
		ref.TenantID, ref.AggregateType, ref.AggregateID,
	); err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "ensure aggregate head row", err)
	}

	newVersion := expectedVersion + int64(len(events))
	tag, err := tx.Exec(ctx, `
		UPDATE aggregates
		SET version = $1, updated_at = now()
		WHERE tenant_id = $2 AND aggregate_type = $3 AND aggregate_id = $4 AND version = $5`,
		newVersion, ref.TenantID, ref.AggregateType, ref.AggregateID, expectedVersion,
	)
	if err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "advance aggregate head", err)
	}
	if tag.RowsAffected() == 0 {
		actual, loadErr := s.headVersion(ctx, tx, ref)
		if loadErr != nil {
			actual = -1
		}
		return conflictErr(ref, expectedVersion, actual)
	}

	for i := range events {
		ev := &events[i]
		ev.Version = expectedVersion + int64(i)
		ev.TenantID = ref.TenantID
		ev.AggregateID = ref.AggregateID
		ev.AggregateType = ref.AggregateType

		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return apperrors.Internal(apperrors.CodeStorage, "marshal event payload", err)
		}
		meta, err := json.Marshal(ev.Metadata)
		if err != nil {
			return apperrors.Internal(apperrors.CodeStorage, "marshal event metadata", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO events (id, tenant_id, aggregate_type, aggregate_id, event_type, version, payload, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			ev.ID, ev.TenantID, ev.AggregateType, ev.AggregateID, ev.Type, ev.Version, payload, meta,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return conflictErr(ref, expectedVersion, -1)
			}
			return apperrors.Internal(apperrors.CodeStorage,
				fmt.Sprintf("insert event %s at version %d", ev.Type, ev.Version), err)
		}
	}

	if snapshot != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE aggregates
			SET snapshot_state = $1, snapshot_schema_version = $2, snapshot_version = $3, snapshot_created_at = now()
			WHERE tenant_id = $4 AND aggregate_type = $5 AND aggregate_id = $6`,
			snapshot.State, snapshot.SchemaVersion, snapshot.Version,
			ref.TenantID, ref.AggregateType, ref.AggregateID,
		); err != nil {
			return apperrors.Internal(apperrors.CodeStorage, "persist snapshot", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "commit append tx", err)
	}
	return nil
}

func (s *PostgresStore) headVersion(ctx context.Context, tx pgx.Tx, ref StreamRef) (int64, error) {
	var v int64
	err := tx.QueryRow(ctx, `
		SELECT version FROM aggregates
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3`,
		ref.TenantID, ref.AggregateType, ref.AggregateID,
	).Scan(&v)
	return v, err
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context, ref StreamRef, fromVersion int64) (*LoadResult, error) {
	var head int64
	err := s.pool.QueryRow(ctx, `
		SELECT version FROM aggregates
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3`,
		ref.TenantID, ref.AggregateType, ref.AggregateID,
	).Scan(&head)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "load aggregate head", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, event_type, version, payload, metadata
		FROM events
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3 AND version >= $4
		ORDER BY version`,
		ref.TenantID, ref.AggregateType, ref.AggregateID, fromVersion,
	)
	if err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "query events", err)
	}
	defer rows.Close()

	result := &LoadResult{Version: fromVersion}
	if head > result.Version {
		result.Version = head
	}
	for rows.Next() {
		ev := domain.Event{
			TenantID:      ref.TenantID,
			AggregateID:   ref.AggregateID,
			AggregateType: ref.AggregateType,
		}
		var payload, meta []byte
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Version, &payload, &meta); err != nil {
			return nil, apperrors.Internal(apperrors.CodeStorage, "scan event row", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, apperrors.Internal(apperrors.CodeStorage, "unmarshal event payload", err)
		}
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, apperrors.Internal(apperrors.CodeStorage, "unmarshal event metadata", err)
		}
		result.Events = append(result.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "iterate event rows", err)
	}
	return result, nil
}

// LoadSnapshot implements Store.
func (s *PostgresStore) LoadSnapshot(ctx context.Context, ref StreamRef) (*domain.Snapshot, error) {
	snap := domain.Snapshot{
		TenantID:      ref.TenantID,
		AggregateID:   ref.AggregateID,
		AggregateType: ref.AggregateType,
	}
	var state []byte
	var schemaVersion *int
	var version *int64
	err := s.pool.QueryRow(ctx, `
		SELECT snapshot_state, snapshot_schema_version, snapshot_version
		FROM aggregates
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3`,
		ref.TenantID, ref.AggregateType, ref.AggregateID,
	).Scan(&state, &schemaVersion, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "load snapshot", err)
	}
	if state == nil || version == nil {
		return nil, nil
	}
	snap.State = state
	snap.Version = *version
	if schemaVersion != nil {
		snap.SchemaVersion = *schemaVersion
	}
	return &snap, nil
}
