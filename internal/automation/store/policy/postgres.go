package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/tx"
)

// Postgres reads tenant_settings.settings, a jsonb document per tenant.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, tenantID id.TenantID, path string) (any, bool, error) {
	var raw []byte
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		`SELECT settings #> $2 FROM tenant_settings WHERE tenant_id = $1`,
		uuid.UUID(tenantID), pq.Array(strings.Split(path, ".")),
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read policy %s: %w", path, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false, fmt.Errorf("decode policy %s: %w", path, err)
	}
	return v, true, nil
}

// Put replaces the tenant's settings document.
func (s *Postgres) Put(ctx context.Context, tenantID id.TenantID, settings map[string]any) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, settings, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()
	`, uuid.UUID(tenantID), raw)
	if err != nil {
		return fmt.Errorf("put settings: %w", err)
	}
	return nil
}
