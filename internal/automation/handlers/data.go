package handlers

import (
	"context"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
)

// DataStore is the tenant-parameterised directory the handlers write through.
type DataStore interface {
	GetStudent(ctx context.Context, tenantID id.TenantID, studentID string) (*models.Student, error)
	UpdateStudentStatus(ctx context.Context, tenantID id.TenantID, studentID string, status models.StudentStatus, note string) error
	DeactivateEnrolments(ctx context.Context, tenantID id.TenantID, studentID string) (int, error)
	CreateStudent(ctx context.Context, tenantID id.TenantID, in models.NewStudent) (*models.Student, error)
	StudentIDsInClass(ctx context.Context, tenantID id.TenantID, classID string) ([]string, error)
	PrimaryGuardians(ctx context.Context, tenantID id.TenantID, studentIDs []string) ([]models.Guardian, error)
	EnqueueNotification(ctx context.Context, tenantID id.TenantID, n models.Notification) error
}

type PolicyReader interface {
	Get(ctx context.Context, tenantID id.TenantID, path string) (any, bool, error)
}

// DataAccess is DataStore and PolicyReader with the tenant fixed.
type DataAccess interface {
	GetStudent(ctx context.Context, studentID string) (*models.Student, error)
	UpdateStudentStatus(ctx context.Context, studentID string, status models.StudentStatus, note string) error
	DeactivateEnrolments(ctx context.Context, studentID string) (int, error)
	CreateStudent(ctx context.Context, in models.NewStudent) (*models.Student, error)
	StudentIDsInClass(ctx context.Context, classID string) ([]string, error)
	PrimaryGuardians(ctx context.Context, studentIDs []string) ([]models.Guardian, error)
	EnqueueNotification(ctx context.Context, n models.Notification) error
	Policy(ctx context.Context, path string) (any, bool, error)
}

// BindTenant fixes tenantID on every call.
func BindTenant(store DataStore, policy PolicyReader, tenantID id.TenantID) DataAccess {
	return &tenantData{store: store, policy: policy, tenant: tenantID}
}

type tenantData struct {
	store  DataStore
	policy PolicyReader
	tenant id.TenantID
}

func (t *tenantData) GetStudent(ctx context.Context, studentID string) (*models.Student, error) {
	return t.store.GetStudent(ctx, t.tenant, studentID)
}

func (t *tenantData) UpdateStudentStatus(ctx context.Context, studentID string, status models.StudentStatus, note string) error {
	return t.store.UpdateStudentStatus(ctx, t.tenant, studentID, status, note)
}

func (t *tenantData) DeactivateEnrolments(ctx context.Context, studentID string) (int, error) {
	return t.store.DeactivateEnrolments(ctx, t.tenant, studentID)
}

func (t *tenantData) CreateStudent(ctx context.Context, in models.NewStudent) (*models.Student, error) {
	return t.store.CreateStudent(ctx, t.tenant, in)
}

func (t *tenantData) StudentIDsInClass(ctx context.Context, classID string) ([]string, error) {
	return t.store.StudentIDsInClass(ctx, t.tenant, classID)
}

func (t *tenantData) PrimaryGuardians(ctx context.Context, studentIDs []string) ([]models.Guardian, error) {
	return t.store.PrimaryGuardians(ctx, t.tenant, studentIDs)
}

func (t *tenantData) EnqueueNotification(ctx context.Context, n models.Notification) error {
	return t.store.EnqueueNotification(ctx, t.tenant, n)
}

func (t *tenantData) Policy(ctx context.Context, path string) (any, bool, error) {
	if t.policy == nil {
		return nil, false, nil
	}
	return t.policy.Get(ctx, t.tenant, path)
}
