//go:build integration

package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskgate/internal/automation/audit"
	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/handlers"
	"taskgate/internal/automation/models"
	auditstore "taskgate/internal/automation/store/audit"
	"taskgate/internal/automation/store/directory"
	"taskgate/internal/automation/store/execution"
	"taskgate/internal/automation/store/policy"
	taskstore "taskgate/internal/automation/store/task"
	dErrors "taskgate/pkg/domain-errors"
	"taskgate/pkg/requestcontext"
	"taskgate/pkg/testutil"
	"taskgate/pkg/testutil/containers"
)

func TestGatewayOnPostgres(t *testing.T) {
	pg := containers.NewPostgresContainer(t, "../../../../migrations")
	catalogs, err := catalog.Default()
	require.NoError(t, err)

	admin := testutil.NewPrincipal("admin")
	ctx := requestcontext.WithTime(context.Background(), fixedNow)
	tasks := taskstore.NewPostgres(pg.DB)
	policies := policy.NewPostgres(pg.DB)
	records := auditstore.NewPostgres(pg.DB)

	svc, err := New(Deps{
		Tasks:      tasks,
		Executions: execution.NewPostgres(pg.DB),
		Policies:   policies,
		Audit:      audit.NewChain(records),
		Handlers:   handlers.Defaults(),
		Data:       directory.NewPostgres(pg.DB),
		Catalogs:   catalogs,
	})
	require.NoError(t, err)

	studentID := uuid.NewString()
	_, err = pg.DB.ExecContext(ctx, `INSERT INTO students (id, tenant_id, name, status) VALUES ($1, $2, '김민준', 'active')`,
		studentID, uuid.UUID(admin.TenantID))
	require.NoError(t, err)
	_, err = pg.DB.ExecContext(ctx, `INSERT INTO guardians (id, tenant_id, student_id, name, phone, is_primary) VALUES ($1, $2, $3, '김보호', '010-1111-2222', true)`,
		uuid.NewString(), uuid.UUID(admin.TenantID), studentID)
	require.NoError(t, err)

	notify := buildTask(t, catalogs, admin, "attendance.exec.notify_guardians_late")
	notify.Plan.Params = map[string]any{"student_ids": []any{studentID}}
	notify.Plan.Targets = models.PlanTargets{StudentIDs: []string{studentID}, Count: 1}
	require.NoError(t, tasks.Create(ctx, notify))

	testutil.Given(t, "a tenant without notification settings", func(t *testing.T) {
		testutil.When(t, "the late notice is executed", func(t *testing.T) {
			_, err := svc.Execute(ctx, notify.ID, models.ActionApproveAndExecute, admin)

			testutil.Then(t, "it is denied and the task stays pending", func(t *testing.T) {
				require.Error(t, err)
				assert.True(t, dErrors.Is(err, dErrors.CodePolicyDenied))
				got, err := tasks.FindByID(ctx, notify.ID)
				require.NoError(t, err)
				assert.Equal(t, models.TaskPending, got.Status)
			})
		})
	})

	testutil.Given(t, "the tenant enables late notices over kakao", func(t *testing.T) {
		require.NoError(t, policies.Put(ctx, admin.TenantID, map[string]any{
			"auto_notification": map[string]any{
				"attendance_late": map[string]any{"enabled": true, "channel": "kakao"},
			},
		}))

		testutil.When(t, "the late notice is executed in a later bucket", func(t *testing.T) {
			later := requestcontext.WithTime(ctx, fixedNow.Add(DefaultBucket))
			res, err := svc.Execute(later, notify.ID, models.ActionApproveAndExecute, admin)

			testutil.Then(t, "one notification is queued and the chain verifies", func(t *testing.T) {
				require.NoError(t, err)
				assert.Equal(t, models.ResultSuccess, res.Status)

				var channel string
				require.NoError(t, pg.DB.QueryRowContext(ctx,
					`SELECT channel FROM notifications WHERE tenant_id = $1`, uuid.UUID(admin.TenantID)).Scan(&channel))
				assert.Equal(t, "kakao_at", channel)

				trail, err := records.ListByTenant(ctx, admin.TenantID)
				require.NoError(t, err)
				require.Len(t, trail, 2)
				assert.Equal(t, models.AuditFailed, trail[0].Status)
				assert.Equal(t, models.AuditSuccess, trail[1].Status)
				require.NoError(t, audit.Verify(trail))
			})

			testutil.Then(t, "a retry in the same bucket replays", func(t *testing.T) {
				again, err := svc.Execute(later, notify.ID, models.ActionApproveAndExecute, admin)
				require.NoError(t, err)
				assert.True(t, again.Replayed)
			})
		})
	})
}
