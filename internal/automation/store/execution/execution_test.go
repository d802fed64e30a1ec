package execution

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
)

type store interface {
	Claim(ctx context.Context, e *models.Execution) error
	Get(ctx context.Context, tenantID id.TenantID, requestID string) (*models.Execution, error)
	Complete(ctx context.Context, tenantID id.TenantID, requestID string, result models.ExecutionResult, at time.Time) error
	Release(ctx context.Context, tenantID id.TenantID, requestID string) error
}

// ClaimSuite is shared by every implementation; Redis runs it under the
// integration build tag.
type ClaimSuite struct {
	suite.Suite
	newStore func() store
	store    store
	ctx      context.Context
}

func (s *ClaimSuite) SetupTest() {
	s.store = s.newStore()
	s.ctx = context.Background()
}

func TestInMemoryClaimSuite(t *testing.T) {
	suite.Run(t, &ClaimSuite{newStore: func() store { return NewInMemory() }})
}

func newExecution() *models.Execution {
	taskID := id.NewTaskID()
	return &models.Execution{
		RequestID: taskID.String() + ":approve-and-execute:1",
		TenantID:  id.TenantID(uuid.New()),
		TaskID:    taskID,
		Action:    models.ActionApproveAndExecute,
		ActorID:   id.UserID(uuid.New()),
		ActorRole: "admin",
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *ClaimSuite) TestClaimOnce() {
	e := newExecution()
	s.Require().NoError(s.store.Claim(s.ctx, e))
	s.ErrorIs(s.store.Claim(s.ctx, e), sentinel.ErrAlreadyExists)

	got, err := s.store.Get(s.ctx, e.TenantID, e.RequestID)
	s.Require().NoError(err)
	s.Equal(models.ExecutionInProgress, got.State)
	s.Nil(got.Result)
}

func (s *ClaimSuite) TestCompleteStoresResult() {
	e := newExecution()
	s.Require().NoError(s.store.Claim(s.ctx, e))

	affected := 3
	result := models.ExecutionResult{RequestID: e.RequestID, TaskID: e.TaskID, Action: e.Action,
		Status: models.ResultSuccess, AffectedCount: &affected}
	s.Require().NoError(s.store.Complete(s.ctx, e.TenantID, e.RequestID, result, time.Now()))

	got, err := s.store.Get(s.ctx, e.TenantID, e.RequestID)
	s.Require().NoError(err)
	s.Equal(models.ExecutionCompleted, got.State)
	s.Require().NotNil(got.Result)
	s.Equal(models.ResultSuccess, got.Result.Status)
	s.Equal(3, *got.Result.AffectedCount)
	s.NotNil(got.CompletedAt)

	s.ErrorIs(s.store.Complete(s.ctx, e.TenantID, e.RequestID, result, time.Now()), sentinel.ErrInvalidState)
}

func (s *ClaimSuite) TestReleaseFreesOnlyInProgressClaims() {
	e := newExecution()
	s.Require().NoError(s.store.Claim(s.ctx, e))
	s.Require().NoError(s.store.Release(s.ctx, e.TenantID, e.RequestID))

	_, err := s.store.Get(s.ctx, e.TenantID, e.RequestID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Require().NoError(s.store.Claim(s.ctx, e), "a released request id can be claimed again")

	s.Require().NoError(s.store.Complete(s.ctx, e.TenantID, e.RequestID,
		models.ExecutionResult{RequestID: e.RequestID, Status: models.ResultSuccess}, time.Now()))
	s.ErrorIs(s.store.Release(s.ctx, e.TenantID, e.RequestID), sentinel.ErrInvalidState)

	got, err := s.store.Get(s.ctx, e.TenantID, e.RequestID)
	s.Require().NoError(err)
	s.Equal(models.ExecutionCompleted, got.State)

	s.ErrorIs(s.store.Release(s.ctx, e.TenantID, "unknown"), sentinel.ErrNotFound)
}

func (s *ClaimSuite) TestTenantScoped() {
	e := newExecution()
	s.Require().NoError(s.store.Claim(s.ctx, e))

	_, err := s.store.Get(s.ctx, id.TenantID(uuid.New()), e.RequestID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClaimSuite) TestConcurrentClaimsHaveOneWinner() {
	e := newExecution()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.store.Claim(s.ctx, e); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
}

func TestPostgresClaim(t *testing.T) {
	ctx := context.Background()
	insert := regexp.QuoteMeta("INSERT INTO executions")

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "claimed"},
		{name: "pgx unique violation", err: &pgconn.PgError{Code: "23505"}, wantErr: sentinel.ErrAlreadyExists},
		{name: "pq unique violation", err: &pq.Error{Code: "23505"}, wantErr: sentinel.ErrAlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			exp := mock.ExpectExec(insert)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, 1))
			}

			err = NewPostgres(db).Claim(ctx, newExecution())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}

	t.Run("other driver errors are wrapped", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectExec(insert).WillReturnError(&pgconn.PgError{Code: "57014"})

		err = NewPostgres(db).Claim(ctx, newExecution())
		require.Error(t, err)
		assert.NotErrorIs(t, err, sentinel.ErrAlreadyExists)
	})

	t.Run("complete of an already completed claim", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE executions")).WillReturnResult(sqlmock.NewResult(0, 0))

		e := newExecution()
		err = NewPostgres(db).Complete(ctx, e.TenantID, e.RequestID, models.ExecutionResult{}, time.Now())
		assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	})

	t.Run("release deletes only in-progress rows", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		e := newExecution()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM executions WHERE request_id = $1 AND tenant_id = $2 AND state = $3")).
			WithArgs(e.RequestID, sqlmock.AnyArg(), string(models.ExecutionInProgress)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, NewPostgres(db).Release(ctx, e.TenantID, e.RequestID))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("release of a missing claim", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		e := newExecution()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM executions")).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("FROM executions")).WillReturnError(sql.ErrNoRows)
		err = NewPostgres(db).Release(ctx, e.TenantID, e.RequestID)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
