package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
	"taskgate/pkg/platform/tx"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) ListStudents(ctx context.Context, tenantID id.TenantID, limit int) ([]models.Student, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(grade, ''), status, notes
		FROM students
		WHERE tenant_id = $1
		ORDER BY created_at, id
		LIMIT $2
	`, uuid.UUID(tenantID), limit)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	defer rows.Close()

	var out []models.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate students: %w", err)
	}
	return out, nil
}

func (s *Postgres) FindClassesByName(ctx context.Context, tenantID id.TenantID, name string) ([]models.Class, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx,
		`SELECT id, name FROM classes WHERE tenant_id = $1 AND name = $2 ORDER BY id`,
		uuid.UUID(tenantID), name)
	if err != nil {
		return nil, fmt.Errorf("find classes: %w", err)
	}
	defer rows.Close()

	var out []models.Class
	for rows.Next() {
		var c models.Class
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan class: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classes: %w", err)
	}
	return out, nil
}

func (s *Postgres) GetStudent(ctx context.Context, tenantID id.TenantID, studentID string) (*models.Student, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone, ''), COALESCE(grade, ''), status, notes
		FROM students
		WHERE tenant_id = $1 AND id = $2
	`, uuid.UUID(tenantID), studentID)
	st, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get student: %w", err)
	}
	return st, nil
}

func (s *Postgres) UpdateStudentStatus(ctx context.Context, tenantID id.TenantID, studentID string, status models.StudentStatus, note string) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE students
		SET status = $1,
			notes = CASE WHEN $2 = '' THEN notes ELSE array_append(notes, $2) END,
			updated_at = now()
		WHERE tenant_id = $3 AND id = $4
	`, string(status), note, uuid.UUID(tenantID), studentID)
	if err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update student status: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) DeactivateEnrolments(ctx context.Context, tenantID id.TenantID, studentID string) (int, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE student_classes SET active = false
		WHERE tenant_id = $1 AND student_id = $2 AND active
	`, uuid.UUID(tenantID), studentID)
	if err != nil {
		return 0, fmt.Errorf("deactivate enrolments: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate enrolments: %w", err)
	}
	return int(n), nil
}

// CreateStudent inserts the student and, when a guardian phone is given, a
// primary guardian, atomically.
func (s *Postgres) CreateStudent(ctx context.Context, tenantID id.TenantID, in models.NewStudent) (*models.Student, error) {
	st := &models.Student{ID: uuid.NewString(), Name: in.Name, Phone: in.Phone, Grade: in.Grade, Status: models.StudentActive}
	err := tx.Run(ctx, s.db, func(ctx context.Context) error {
		q := tx.Pick(ctx, s.db)
		if _, err := q.ExecContext(ctx, `
			INSERT INTO students (id, tenant_id, name, phone, grade, status, notes, created_at, updated_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, '{}', now(), now())
		`, st.ID, uuid.UUID(tenantID), st.Name, st.Phone, st.Grade, string(st.Status)); err != nil {
			return fmt.Errorf("insert student: %w", err)
		}
		if in.GuardianPhone == "" {
			return nil
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO guardians (id, tenant_id, student_id, name, phone, is_primary)
			VALUES ($1, $2, $3, $4, $5, true)
		`, uuid.NewString(), uuid.UUID(tenantID), st.ID, in.GuardianName, in.GuardianPhone); err != nil {
			return fmt.Errorf("insert guardian: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Postgres) StudentIDsInClass(ctx context.Context, tenantID id.TenantID, classID string) ([]string, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT student_id FROM student_classes
		WHERE tenant_id = $1 AND class_id = $2 AND active
		ORDER BY student_id
	`, uuid.UUID(tenantID), classID)
	if err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, fmt.Errorf("scan class student: %w", err)
		}
		out = append(out, sid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate class students: %w", err)
	}
	return out, nil
}

func (s *Postgres) PrimaryGuardians(ctx context.Context, tenantID id.TenantID, studentIDs []string) ([]models.Guardian, error) {
	if len(studentIDs) == 0 {
		return nil, nil
	}
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT id, student_id, name, phone, is_primary
		FROM guardians
		WHERE tenant_id = $1 AND is_primary AND student_id::text = ANY($2)
		ORDER BY student_id, id
	`, uuid.UUID(tenantID), pq.Array(studentIDs))
	if err != nil {
		return nil, fmt.Errorf("list guardians: %w", err)
	}
	defer rows.Close()

	var out []models.Guardian
	for rows.Next() {
		var g models.Guardian
		if err := rows.Scan(&g.ID, &g.StudentID, &g.Name, &g.Phone, &g.Primary); err != nil {
			return nil, fmt.Errorf("scan guardian: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guardians: %w", err)
	}
	return out, nil
}

func (s *Postgres) EnqueueNotification(ctx context.Context, tenantID id.TenantID, n models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO notifications (id, tenant_id, student_id, guardian_id, channel, event_type, recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, uuid.UUID(tenantID), n.StudentID, n.GuardianID, n.Channel, n.EventType, n.Recipient, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (*models.Student, error) {
	var (
		st     models.Student
		status string
		notes  pq.StringArray
	)
	if err := row.Scan(&st.ID, &st.Name, &st.Phone, &st.Grade, &status, &notes); err != nil {
		return nil, err
	}
	st.Status = models.StudentStatus(status)
	st.Notes = []string(notes)
	return &st, nil
}
