package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
	"taskgate/pkg/platform/tx"
)

const draftColumns = `id, session_id, tenant_id, user_id, intent_key, status, params, missing_required, version, created_at, updated_at`

// Postgres stores drafts in the drafts table. The partial unique index
// drafts_active_key enforces one active draft per key.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) CreateIfAbsent(ctx context.Context, d *models.Draft) (*models.Draft, error) {
	params, err := json.Marshal(d.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal draft params: %w", err)
	}
	query := `
		INSERT INTO drafts (` + draftColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id, tenant_id, user_id, intent_key)
			WHERE status IN ('collecting', 'ready')
		DO NOTHING
	`
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		uuid.UUID(d.ID), uuid.UUID(d.SessionID), uuid.UUID(d.TenantID), uuid.UUID(d.UserID),
		d.IntentKey, string(d.Status), params, pq.Array(d.MissingRequired), d.Version,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert draft: %w", err)
	}
	if n == 0 {
		// Another request won the race; converge on its draft.
		return s.FindActive(ctx, d.Key())
	}
	return d.Clone(), nil
}

func (s *Postgres) FindActive(ctx context.Context, key models.DraftKey) (*models.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts
		WHERE session_id = $1 AND tenant_id = $2 AND user_id = $3 AND intent_key = $4
		  AND status IN ('collecting', 'ready')`
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, query,
		uuid.UUID(key.SessionID), uuid.UUID(key.TenantID), uuid.UUID(key.UserID), key.IntentKey)
	d, err := scanDraft(row)
	if err != nil {
		return nil, fmt.Errorf("find active draft: %w", err)
	}
	return d, nil
}

func (s *Postgres) FindByID(ctx context.Context, tenantID id.TenantID, draftID id.DraftID) (*models.Draft, error) {
	query := `SELECT ` + draftColumns + ` FROM drafts WHERE id = $1 AND tenant_id = $2`
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, query, uuid.UUID(draftID), uuid.UUID(tenantID))
	d, err := scanDraft(row)
	if err != nil {
		return nil, fmt.Errorf("find draft: %w", err)
	}
	return d, nil
}

func (s *Postgres) Update(ctx context.Context, d *models.Draft, expectedVersion int64) error {
	params, err := json.Marshal(d.Params)
	if err != nil {
		return fmt.Errorf("marshal draft params: %w", err)
	}
	query := `
		UPDATE drafts
		SET status = $1, params = $2, missing_required = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND tenant_id = $6 AND version = $7
	`
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, query,
		string(d.Status), params, pq.Array(d.MissingRequired), d.UpdatedAt,
		uuid.UUID(d.ID), uuid.UUID(d.TenantID), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	if n == 0 {
		// Distinguish a stale version from a missing row.
		if _, err := s.FindByID(ctx, d.TenantID, d.ID); err != nil {
			return err
		}
		return fmt.Errorf("update draft: %w", sentinel.ErrConflict)
	}
	d.Version = expectedVersion + 1
	return nil
}

func scanDraft(row *sql.Row) (*models.Draft, error) {
	var (
		d                                models.Draft
		draftID, sessionID, tenant, user uuid.UUID
		status                           string
		params                           []byte
		missing                          pq.StringArray
	)
	err := row.Scan(&draftID, &sessionID, &tenant, &user, &d.IntentKey, &status, &params, &missing,
		&d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, err
	}
	d.ID = id.DraftID(draftID)
	d.SessionID = id.SessionID(sessionID)
	d.TenantID = id.TenantID(tenant)
	d.UserID = id.UserID(user)
	d.Status = models.DraftStatus(status)
	d.Params = map[string]any{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &d.Params); err != nil {
			return nil, fmt.Errorf("unmarshal draft params: %w", err)
		}
	}
	d.MissingRequired = []string(missing)
	if d.MissingRequired == nil {
		d.MissingRequired = []string{}
	}
	return &d, nil
}
