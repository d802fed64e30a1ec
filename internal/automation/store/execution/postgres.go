package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
	"taskgate/pkg/platform/tx"
)

const uniqueViolation = "23505"

// Postgres relies on request_id being the primary key of executions.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Claim(ctx context.Context, e *models.Execution) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO executions (request_id, tenant_id, task_id, action, actor_id, actor_role, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.RequestID, uuid.UUID(e.TenantID), uuid.UUID(e.TaskID), string(e.Action),
		uuid.UUID(e.ActorID), e.ActorRole, string(models.ExecutionInProgress), e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("claim execution: %w", err)
	}
	return nil
}

func (s *Postgres) Get(ctx context.Context, tenantID id.TenantID, requestID string) (*models.Execution, error) {
	var (
		e                   models.Execution
		tenant, task, actor uuid.UUID
		action, state       string
		result              []byte
		completedAt         sql.NullTime
	)
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT request_id, tenant_id, task_id, action, actor_id, actor_role, state, result, created_at, completed_at
		FROM executions
		WHERE request_id = $1 AND tenant_id = $2
	`, requestID, uuid.UUID(tenantID)).Scan(&e.RequestID, &tenant, &task, &action, &actor, &e.ActorRole,
		&state, &result, &e.CreatedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get execution: %w", err)
	}
	e.TenantID = id.TenantID(tenant)
	e.TaskID = id.TaskID(task)
	e.ActorID = id.UserID(actor)
	e.Action = models.Action(action)
	e.State = models.ExecutionState(state)
	if len(result) > 0 {
		var r models.ExecutionResult
		if err := json.Unmarshal(result, &r); err != nil {
			return nil, fmt.Errorf("unmarshal execution result: %w", err)
		}
		e.Result = &r
	}
	if completedAt.Valid {
		e.CompletedAt = &completedAt.Time
	}
	return &e, nil
}

func (s *Postgres) Complete(ctx context.Context, tenantID id.TenantID, requestID string, result models.ExecutionResult, at time.Time) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal execution result: %w", err)
	}
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE executions SET state = $1, result = $2, completed_at = $3
		WHERE request_id = $4 AND tenant_id = $5 AND state = $6
	`, string(models.ExecutionCompleted), raw, at, requestID, uuid.UUID(tenantID), string(models.ExecutionInProgress))
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("complete execution: %w", sentinel.ErrInvalidState)
	}
	return nil
}

// Release deletes an in-progress claim. A completed row is never removed.
func (s *Postgres) Release(ctx context.Context, tenantID id.TenantID, requestID string) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		DELETE FROM executions WHERE request_id = $1 AND tenant_id = $2 AND state = $3
	`, requestID, uuid.UUID(tenantID), string(models.ExecutionInProgress))
	if err != nil {
		return fmt.Errorf("release execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release execution: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, tenantID, requestID); err != nil {
			return fmt.Errorf("release execution: %w", err)
		}
		return fmt.Errorf("release execution: %w", sentinel.ErrInvalidState)
	}
	return nil
}

// isUniqueViolation recognises both driver error types; the pgx stdlib
// driver is the default and lib/pq remains supported for DATABASE_DRIVER=postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}
