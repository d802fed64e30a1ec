package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
	"taskgate/pkg/platform/tx"
)

const taskColumns = `id, tenant_id, intent_key, status, plan, created_by,
	approval_requested_by, approval_requested_at, approved_by, approved_at, executed_at,
	last_request_id, last_result, version, created_at, updated_at`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, t *models.Task) error {
	plan, err := json.Marshal(t.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	query := `
		INSERT INTO tasks (id, tenant_id, intent_key, status, plan, created_by, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(t.ID), uuid.UUID(t.TenantID), t.IntentKey, string(t.Status), plan,
		uuid.UUID(t.CreatedBy), t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, taskID id.TaskID) (*models.Task, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, uuid.UUID(taskID))
	t, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("find task: %w", err)
	}
	return t, nil
}

// Update is a compare-and-swap on version.
func (s *Postgres) Update(ctx context.Context, t *models.Task, expectedVersion int64) error {
	var lastResult []byte
	if t.LastResult != nil {
		raw, err := json.Marshal(t.LastResult)
		if err != nil {
			return fmt.Errorf("marshal last result: %w", err)
		}
		lastResult = raw
	}
	query := `
		UPDATE tasks SET
			status = $1,
			approval_requested_by = $2, approval_requested_at = $3,
			approved_by = $4, approved_at = $5, executed_at = $6,
			last_request_id = $7, last_result = $8, updated_at = $9,
			version = version + 1
		WHERE id = $10 AND tenant_id = $11 AND version = $12
	`
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		string(t.Status),
		nullableUser(t.ApprovalRequestedBy), t.ApprovalRequestedAt,
		nullableUser(t.ApprovedBy), t.ApprovedAt, t.ExecutedAt,
		sql.NullString{String: t.LastRequestID, Valid: t.LastRequestID != ""}, lastResult, t.UpdatedAt,
		uuid.UUID(t.ID), uuid.UUID(t.TenantID), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if n == 0 {
		current, err := s.FindByID(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if current.TenantID != t.TenantID {
			return fmt.Errorf("update task: %w", sentinel.ErrNotFound)
		}
		return fmt.Errorf("update task: %w", sentinel.ErrConflict)
	}
	t.Version = expectedVersion + 1
	return nil
}

func nullableUser(u *id.UserID) *uuid.UUID {
	if u == nil {
		return nil
	}
	v := uuid.UUID(*u)
	return &v
}

func scanTask(row *sql.Row) (*models.Task, error) {
	var (
		t                         models.Task
		taskID, tenant, createdBy uuid.UUID
		status                    string
		plan, lastResult          []byte
		requestedBy, approvedBy   uuid.NullUUID
		requestedAt, approvedAt   sql.NullTime
		executedAt                sql.NullTime
		lastRequestID             sql.NullString
	)
	err := row.Scan(&taskID, &tenant, &t.IntentKey, &status, &plan, &createdBy,
		&requestedBy, &requestedAt, &approvedBy, &approvedAt, &executedAt,
		&lastRequestID, &lastResult, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	t.ID = id.TaskID(taskID)
	t.TenantID = id.TenantID(tenant)
	t.CreatedBy = id.UserID(createdBy)
	t.Status = models.TaskStatus(status)
	if err := json.Unmarshal(plan, &t.Plan); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if len(lastResult) > 0 {
		var r models.ExecutionResult
		if err := json.Unmarshal(lastResult, &r); err != nil {
			return nil, fmt.Errorf("unmarshal last result: %w", err)
		}
		t.LastResult = &r
	}
	t.LastRequestID = lastRequestID.String
	t.ApprovalRequestedBy = userPtr(requestedBy)
	t.ApprovedBy = userPtr(approvedBy)
	t.ApprovalRequestedAt = timePtr(requestedAt)
	t.ApprovedAt = timePtr(approvedAt)
	t.ExecutedAt = timePtr(executedAt)
	return &t, nil
}

func userPtr(u uuid.NullUUID) *id.UserID {
	if !u.Valid {
		return nil
	}
	v := id.UserID(u.UUID)
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
