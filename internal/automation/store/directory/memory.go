// Package directory reads and writes the academy rows automation touches:
// students, guardians, classes, enrolments and queued notifications.
// Every method is tenant-scoped.
package directory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/platform/sentinel"
)

type tenantData struct {
	students      map[string]*models.Student
	order         []string
	guardians     []models.Guardian
	classes       []models.Class
	enrolments    map[string]map[string]bool // student -> class -> active
	notifications []models.Notification
}

type InMemory struct {
	mu      sync.RWMutex
	tenants map[id.TenantID]*tenantData
}

func NewInMemory() *InMemory {
	return &InMemory{tenants: make(map[id.TenantID]*tenantData)}
}

func (s *InMemory) tenant(t id.TenantID) *tenantData {
	d, ok := s.tenants[t]
	if !ok {
		d = &tenantData{students: map[string]*models.Student{}, enrolments: map[string]map[string]bool{}}
		s.tenants[t] = d
	}
	return d
}

// AddStudent seeds a student. An empty ID is generated.
func (s *InMemory) AddStudent(tenantID id.TenantID, st models.Student) models.Student {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.Status == "" {
		st.Status = models.StudentActive
	}
	d := s.tenant(tenantID)
	c := st
	d.students[st.ID] = &c
	d.order = append(d.order, st.ID)
	return st
}

func (s *InMemory) AddGuardian(tenantID id.TenantID, g models.Guardian) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	d := s.tenant(tenantID)
	d.guardians = append(d.guardians, g)
}

func (s *InMemory) AddClass(tenantID id.TenantID, c models.Class) models.Class {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	d := s.tenant(tenantID)
	d.classes = append(d.classes, c)
	return c
}

func (s *InMemory) Enrol(tenantID id.TenantID, studentID, classID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.tenant(tenantID)
	if d.enrolments[studentID] == nil {
		d.enrolments[studentID] = map[string]bool{}
	}
	d.enrolments[studentID][classID] = true
}

// Notifications returns queued notifications for tenantID.
func (s *InMemory) Notifications(tenantID id.TenantID) []models.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return nil
	}
	return append([]models.Notification(nil), d.notifications...)
}

func (s *InMemory) ListStudents(_ context.Context, tenantID id.TenantID, limit int) ([]models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	out := make([]models.Student, 0, len(d.order))
	for _, sid := range d.order {
		if len(out) == limit {
			break
		}
		out = append(out, *d.students[sid])
	}
	return out, nil
}

func (s *InMemory) FindClassesByName(_ context.Context, tenantID id.TenantID, name string) ([]models.Class, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	var out []models.Class
	for _, c := range d.classes {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *InMemory) GetStudent(_ context.Context, tenantID id.TenantID, studentID string) (*models.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	st, ok := d.students[studentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *st
	c.Notes = append([]string(nil), st.Notes...)
	return &c, nil
}

func (s *InMemory) UpdateStudentStatus(_ context.Context, tenantID id.TenantID, studentID string, status models.StudentStatus, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return sentinel.ErrNotFound
	}
	st, ok := d.students[studentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	st.Status = status
	if note != "" {
		st.Notes = append(st.Notes, note)
	}
	return nil
}

func (s *InMemory) DeactivateEnrolments(_ context.Context, tenantID id.TenantID, studentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return 0, nil
	}
	n := 0
	for classID, active := range d.enrolments[studentID] {
		if active {
			d.enrolments[studentID][classID] = false
			n++
		}
	}
	return n, nil
}

func (s *InMemory) CreateStudent(_ context.Context, tenantID id.TenantID, in models.NewStudent) (*models.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.tenant(tenantID)
	st := &models.Student{ID: uuid.NewString(), Name: in.Name, Phone: in.Phone, Grade: in.Grade, Status: models.StudentActive}
	d.students[st.ID] = st
	d.order = append(d.order, st.ID)
	if in.GuardianPhone != "" {
		d.guardians = append(d.guardians, models.Guardian{
			ID: uuid.NewString(), StudentID: st.ID, Name: in.GuardianName, Phone: in.GuardianPhone, Primary: true,
		})
	}
	c := *st
	return &c, nil
}

func (s *InMemory) StudentIDsInClass(_ context.Context, tenantID id.TenantID, classID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	var out []string
	for studentID, classes := range d.enrolments {
		if classes[classID] {
			out = append(out, studentID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *InMemory) PrimaryGuardians(_ context.Context, tenantID id.TenantID, studentIDs []string) ([]models.Guardian, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	wanted := make(map[string]struct{}, len(studentIDs))
	for _, sid := range studentIDs {
		wanted[sid] = struct{}{}
	}
	var out []models.Guardian
	for _, g := range d.guardians {
		if _, ok := wanted[g.StudentID]; ok && g.Primary {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *InMemory) EnqueueNotification(_ context.Context, tenantID id.TenantID, n models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	d := s.tenant(tenantID)
	d.notifications = append(d.notifications, n)
	return nil
}
