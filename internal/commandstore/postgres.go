package commandstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
)

// PostgresStore persists commands in the commands table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a Postgres-backed command store on the shared pool.
func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Upsert implements Store. Replays of the same command id keep the original
// row; only payload/metadata are refreshed while still pending.
func (s *PostgresStore) Upsert(ctx context.Context, cmd domain.Command) error {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "marshal command payload", err)
	}
	meta, err := json.Marshal(cmd.Metadata)
	if err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "marshal command metadata", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO commands (id, tenant_id, command_type, payload, metadata, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, metadata = EXCLUDED.metadata, updated_at = now()
		WHERE commands.status = 'PENDING'`,
		cmd.ID, cmd.TenantID, cmd.Type, payload, meta, cmd.Status,
	)
	if err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "upsert command", err)
	}
	return nil
}

// MarkStatus implements Store. The WHERE clause keeps the transition
// one-way: a terminal command stays terminal.
func (s *PostgresStore) MarkStatus(ctx context.Context, id uuid.UUID, status domain.CommandStatus, result *domain.DispatchResult) error {
	var res []byte
	if result != nil {
		var err error
		res, err = json.Marshal(result)
		if err != nil {
			return apperrors.Internal(apperrors.CodeStorage, "marshal command result", err)
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE commands
		SET status = $1, result = $2, updated_at = now()
		WHERE id = $3 AND status = 'PENDING'`,
		status, res, id,
	)
	if err != nil {
		return apperrors.Internal(apperrors.CodeStorage, "mark command status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.Internal(apperrors.CodeCommandNotFound,
			fmt.Sprintf("command %s is not pending", id), nil)
	}
	return nil
}

// GetByID implements Store.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, command_type, payload, metadata, status, result, created_at, updated_at
		FROM commands WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.Internal(apperrors.CodeCommandNotFound,
			fmt.Sprintf("command %s not found", id), nil)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Query implements Store.
func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Record, error) {
	query := `
		SELECT id, tenant_id, command_type, payload, metadata, status, result, created_at, updated_at
		FROM commands WHERE 1=1`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.TenantID != uuid.Nil {
		query += " AND tenant_id = " + arg(filter.TenantID)
	}
	if filter.Type != "" {
		query += " AND command_type = " + arg(filter.Type)
	}
	if filter.Status != "" {
		query += " AND status = " + arg(filter.Status)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= " + arg(filter.Since)
	}
	if !filter.UpdatedBefore.IsZero() {
		query += " AND updated_at < " + arg(filter.UpdatedBefore)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "query commands", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "iterate command rows", err)
	}
	return out, nil
}

// DeleteTerminalBefore implements Store.
func (s *PostgresStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM commands
		WHERE status IN ('CONSUMED', 'FAILED') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Internal(apperrors.CodeStorage, "delete terminal commands", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	var payload, meta, res []byte
	if err := row.Scan(
		&rec.Command.ID, &rec.Command.TenantID, &rec.Command.Type,
		&payload, &meta, &rec.Command.Status, &res,
		&rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.Internal(apperrors.CodeStorage, "scan command row", err)
	}
	if err := json.Unmarshal(payload, &rec.Command.Payload); err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "unmarshal command payload", err)
	}
	if err := json.Unmarshal(meta, &rec.Command.Metadata); err != nil {
		return nil, apperrors.Internal(apperrors.CodeStorage, "unmarshal command metadata", err)
	}
	if len(res) > 0 {
		var dr domain.DispatchResult
		if err := json.Unmarshal(res, &dr); err != nil {
			return nil, apperrors.Internal(apperrors.CodeStorage, "unmarshal command result", err)
		}
		rec.Result = &dr
	}
	return &rec, nil
}
