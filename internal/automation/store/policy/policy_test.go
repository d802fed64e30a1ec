package policy

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "taskgate/pkg/domain"
)

func TestInMemoryGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()
	tenant := id.TenantID(uuid.New())
	store.Set(tenant, "auto_notification.late.enabled", true)
	store.Set(tenant, "auto_notification.late.channel", "kakao")

	v, ok, err := store.Get(ctx, tenant, "auto_notification.late.enabled")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, true, v)

	_, ok, err = store.Get(ctx, tenant, "auto_notification.absent.enabled")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get(ctx, tenant, "auto_notification.late.enabled.deeper")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Get(ctx, id.TenantID(uuid.New()), "auto_notification.late.enabled")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresGet(t *testing.T) {
	ctx := context.Background()
	tenant := id.TenantID(uuid.New())
	query := regexp.QuoteMeta("SELECT settings #> $2 FROM tenant_settings")

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		err     error
		want    any
		wantOK  bool
		wantErr bool
	}{
		{name: "value", rows: sqlmock.NewRows([]string{"v"}).AddRow([]byte(`false`)), want: false, wantOK: true},
		{name: "missing path", rows: sqlmock.NewRows([]string{"v"}).AddRow(nil)},
		{name: "missing tenant", err: sql.ErrNoRows},
		{name: "driver error", err: sql.ErrConnDone, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			exp := mock.ExpectQuery(query)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnRows(tt.rows)
			}

			v, ok, err := NewPostgres(db).Get(ctx, tenant, "domain_action.student.discharge.enabled")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}
