package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/tx"
)

const recordColumns = `id, tenant_id, occurred_at, operation_type, status, actor, summary, details,
	correlation_key, task_id, error_code, duration_ms, prev_hash, hash`

// Postgres appends to audit_records. A transaction-scoped advisory lock on the
// tenant serializes chain appends across processes.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) AppendLinked(ctx context.Context, rec *models.AuditRecord, link func(prevHash string) error) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		q := tx.Pick(ctx, s.db)
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.TenantID.String()); err != nil {
			return fmt.Errorf("lock audit chain: %w", err)
		}
		var prev string
		err := q.QueryRowContext(ctx, `
			SELECT hash FROM audit_records WHERE tenant_id = $1 ORDER BY seq DESC LIMIT 1
		`, uuid.UUID(rec.TenantID)).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read chain head: %w", err)
		}
		if err := link(prev); err != nil {
			return err
		}
		var details []byte
		if rec.Details != nil {
			if details, err = json.Marshal(rec.Details); err != nil {
				return fmt.Errorf("marshal audit details: %w", err)
			}
		}
		var taskID *uuid.UUID
		if rec.TaskID != nil {
			v := uuid.UUID(*rec.TaskID)
			taskID = &v
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO audit_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, rec.ID, uuid.UUID(rec.TenantID), rec.OccurredAt, rec.OperationType, string(rec.Status),
			rec.Actor, rec.Summary, details, rec.CorrelationKey, taskID,
			sql.NullString{String: rec.ErrorCode, Valid: rec.ErrorCode != ""}, rec.DurationMS, rec.PrevHash, rec.Hash)
		if err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
		return nil
	})
}

func (s *Postgres) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]models.AuditRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM audit_records WHERE tenant_id = $1 ORDER BY seq`,
		uuid.UUID(tenantID))
}

func (s *Postgres) ListByCorrelation(ctx context.Context, tenantID id.TenantID, key string) ([]models.AuditRecord, error) {
	return s.list(ctx, `SELECT `+recordColumns+` FROM audit_records WHERE tenant_id = $1 AND correlation_key = $2 ORDER BY seq`,
		uuid.UUID(tenantID), key)
}

func (s *Postgres) list(ctx context.Context, query string, args ...any) ([]models.AuditRecord, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var (
			r         models.AuditRecord
			tenant    uuid.UUID
			status    string
			details   []byte
			taskID    uuid.NullUUID
			errorCode sql.NullString
		)
		if err := rows.Scan(&r.ID, &tenant, &r.OccurredAt, &r.OperationType, &status, &r.Actor, &r.Summary,
			&details, &r.CorrelationKey, &taskID, &errorCode, &r.DurationMS, &r.PrevHash, &r.Hash); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.TenantID = id.TenantID(tenant)
		r.Status = models.AuditStatus(status)
		r.ErrorCode = errorCode.String
		if taskID.Valid {
			t := id.TaskID(taskID.UUID)
			r.TaskID = &t
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &r.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}
