package directory

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
)

type DirectorySuite struct {
	suite.Suite
	store  *InMemory
	ctx    context.Context
	tenant id.TenantID
}

func (s *DirectorySuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.tenant = id.TenantID(uuid.New())
}

func TestDirectorySuite(t *testing.T) {
	suite.Run(t, new(DirectorySuite))
}

func (s *DirectorySuite) TestTenantIsolation() {
	st := s.store.AddStudent(s.tenant, models.Student{Name: "김민준"})

	other := id.TenantID(uuid.New())
	_, err := s.store.GetStudent(s.ctx, other, st.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.ErrorIs(s.store.UpdateStudentStatus(s.ctx, other, st.ID, models.StudentWithdrawn, ""), sentinel.ErrNotFound)

	list, err := s.store.ListStudents(s.ctx, other, 10)
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *DirectorySuite) TestStatusAndEnrolments() {
	st := s.store.AddStudent(s.tenant, models.Student{Name: "김민준"})
	class := s.store.AddClass(s.tenant, models.Class{Name: "중2-A"})
	s.store.Enrol(s.tenant, st.ID, class.ID)

	s.Require().NoError(s.store.UpdateStudentStatus(s.ctx, s.tenant, st.ID, models.StudentWithdrawn, "note"))
	got, err := s.store.GetStudent(s.ctx, s.tenant, st.ID)
	s.Require().NoError(err)
	s.Equal(models.StudentWithdrawn, got.Status)
	s.Equal([]string{"note"}, got.Notes)

	n, err := s.store.DeactivateEnrolments(s.ctx, s.tenant, st.ID)
	s.Require().NoError(err)
	s.Equal(1, n)

	ids, err := s.store.StudentIDsInClass(s.ctx, s.tenant, class.ID)
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *DirectorySuite) TestCreateStudentAddsPrimaryGuardian() {
	st, err := s.store.CreateStudent(s.ctx, s.tenant, models.NewStudent{
		Name: "이서연", GuardianName: "이보호", GuardianPhone: "010-1234-5678",
	})
	s.Require().NoError(err)

	guardians, err := s.store.PrimaryGuardians(s.ctx, s.tenant, []string{st.ID})
	s.Require().NoError(err)
	s.Require().Len(guardians, 1)
	s.Equal("010-1234-5678", guardians[0].Phone)
}

func (s *DirectorySuite) TestListStudentsRespectsLimit() {
	for range 3 {
		s.store.AddStudent(s.tenant, models.Student{Name: "학생"})
	}
	list, err := s.store.ListStudents(s.ctx, s.tenant, 2)
	s.Require().NoError(err)
	s.Len(list, 2)
}

func TestPostgresDirectory(t *testing.T) {
	ctx := context.Background()
	tenant := id.TenantID(uuid.New())

	t.Run("get student scans notes", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery(regexp.QuoteMeta("FROM students")).
			WithArgs(tenant.String(), "s1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "phone", "grade", "status", "notes"}).
				AddRow("s1", "김민준", "", "중2", "active", "{a,b}"))

		st, err := NewPostgres(db).GetStudent(ctx, tenant, "s1")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, st.Notes)
		assert.Equal(t, models.StudentActive, st.Status)
	})

	t.Run("status update on a missing student", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(regexp.QuoteMeta("UPDATE students")).WillReturnResult(sqlmock.NewResult(0, 0))
		err = NewPostgres(db).UpdateStudentStatus(ctx, tenant, "missing", models.StudentOnLeave, "")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("create student inserts guardian in one transaction", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO students")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO guardians")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		st, err := NewPostgres(db).CreateStudent(ctx, tenant, models.NewStudent{Name: "이서연", GuardianPhone: "010"})
		require.NoError(t, err)
		assert.NotEmpty(t, st.ID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no guardians queried for an empty id list", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		out, err := NewPostgres(db).PrimaryGuardians(ctx, tenant, nil)
		require.NoError(t, err)
		assert.Empty(t, out)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
