package handlers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/goleak"

	"taskgate/internal/automation/models"
	"taskgate/internal/automation/store/directory"
	"taskgate/internal/automation/store/policy"
	id "taskgate/pkg/domain"
)

type HandlerSuite struct {
	suite.Suite
	dir    *directory.InMemory
	policy *policy.InMemory
	tenant id.TenantID
	ctx    context.Context
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.dir = directory.NewInMemory()
	s.policy = policy.NewInMemory()
	s.tenant = id.TenantID(uuid.New())
	s.ctx = context.Background()
}

func (s *HandlerSuite) hc() HandlerContext {
	return HandlerContext{
		TenantID: s.tenant,
		ActorID:  id.UserID(uuid.New()),
		Now:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Data:     BindTenant(s.dir, s.policy, s.tenant),
	}
}

func plan(intentKey string, params map[string]any) models.Plan {
	return models.Plan{SchemaVersion: models.PlanSchemaVersion, IntentKey: intentKey, Params: params}
}

func (s *HandlerSuite) TestDischarge() {
	st := s.dir.AddStudent(s.tenant, models.Student{Name: "김민준"})
	class := s.dir.AddClass(s.tenant, models.Class{Name: "중2-A"})
	s.dir.Enrol(s.tenant, st.ID, class.ID)

	res, err := Discharge(s.ctx, plan("student.exec.discharge", map[string]any{
		"student_id": st.ID, "date": "2026-03-02", "reason": "이사", "settlement_mode": "partial",
	}), s.hc())
	s.Require().NoError(err)
	s.Equal(models.ResultSuccess, res.Status)
	s.Equal(1, *res.AffectedCount)

	got, err := s.dir.GetStudent(s.ctx, s.tenant, st.ID)
	s.Require().NoError(err)
	s.Equal(models.StudentWithdrawn, got.Status)
	s.Equal([]string{"[퇴원] 2026-03-02: 이사 (정산: partial)"}, got.Notes)

	members, err := s.dir.StudentIDsInClass(s.ctx, s.tenant, class.ID)
	s.Require().NoError(err)
	s.Empty(members)
}

func (s *HandlerSuite) TestDischargeNoteOmitsEmptyParts() {
	s.Equal("[퇴원] 2026-03-02", dischargeNote(dischargeParams{Date: "2026-03-02"}))
	s.Equal("[퇴원] 2026-03-02 (정산: none)", dischargeNote(dischargeParams{Date: "2026-03-02", SettlementMode: "none"}))
}

func (s *HandlerSuite) TestDischargeUnknownStudent() {
	res, err := Discharge(s.ctx, plan("student.exec.discharge", map[string]any{
		"student_id": uuid.NewString(), "date": "2026-03-02",
	}), s.hc())
	s.Require().NoError(err)
	s.Equal(models.ResultFailed, res.Status)
	s.Equal(models.ErrorCodeTargetNotFound, res.ErrorCode)
}

func (s *HandlerSuite) TestDischargeEnrolmentFailureIsPartial() {
	st := s.dir.AddStudent(s.tenant, models.Student{Name: "김민준"})
	hc := s.hc()
	hc.Data = &flakyData{DataAccess: hc.Data, deactivateErr: errors.New("timeout")}

	res, err := Discharge(s.ctx, plan("student.exec.discharge", map[string]any{
		"student_id": st.ID, "date": "2026-03-02",
	}), hc)
	s.Require().NoError(err)
	s.Equal(models.ResultPartial, res.Status)
	s.Equal(models.ErrorCodePartialSuccess, res.ErrorCode)

	got, err := s.dir.GetStudent(s.ctx, s.tenant, st.ID)
	s.Require().NoError(err)
	s.Equal(models.StudentWithdrawn, got.Status)
}

func (s *HandlerSuite) TestPause() {
	st := s.dir.AddStudent(s.tenant, models.Student{Name: "이서연"})
	res, err := Pause(s.ctx, plan("student.exec.pause", map[string]any{
		"student_id": st.ID, "from": "2026-03-02", "to": "2026-03-31",
	}), s.hc())
	s.Require().NoError(err)
	s.Equal(models.ResultSuccess, res.Status)

	got, err := s.dir.GetStudent(s.ctx, s.tenant, st.ID)
	s.Require().NoError(err)
	s.Equal(models.StudentOnLeave, got.Status)
	s.Equal([]string{"[휴원] 2026-03-02 ~ 2026-03-31"}, got.Notes)
}

func (s *HandlerSuite) TestRegister() {
	res, err := Register(s.ctx, plan("student.exec.register", map[string]any{
		"form_values": map[string]any{
			"name": "박지훈", "has_guardian": "true", "guardian_name": "박보호", "guardian_phone": "010-2222-3333",
		},
	}), s.hc())
	s.Require().NoError(err)
	s.Equal(models.ResultSuccess, res.Status)

	list, err := s.dir.ListStudents(s.ctx, s.tenant, 10)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	guardians, err := s.dir.PrimaryGuardians(s.ctx, s.tenant, []string{list[0].ID})
	s.Require().NoError(err)
	s.Len(guardians, 1)
}

func (s *HandlerSuite) TestRegisterRequiresGuardianPhone() {
	res, err := Register(s.ctx, plan("student.exec.register", map[string]any{
		"form_values": map[string]any{"name": "박지훈", "has_guardian": true},
	}), s.hc())
	s.Require().NoError(err)
	s.Equal(models.ResultFailed, res.Status)
	s.Equal(models.ErrorCodeInvalidParams, res.ErrorCode)
}

func (s *HandlerSuite) seedGuardians(n int) []string {
	var ids []string
	for range n {
		st := s.dir.AddStudent(s.tenant, models.Student{Name: "학생"})
		s.dir.AddGuardian(s.tenant, models.Guardian{StudentID: st.ID, Name: "보호자", Phone: "010-0000-0000", Primary: true})
		ids = append(ids, st.ID)
	}
	return ids
}

func notifyPlan(studentIDs []string, params map[string]any) models.Plan {
	p := plan("attendance.exec.notify_guardians_late", params)
	p.EventType = "attendance_late"
	p.Targets = models.PlanTargets{StudentIDs: studentIDs, Count: len(studentIDs)}
	return p
}

func (s *HandlerSuite) TestNotifyChannelResolution() {
	tests := []struct {
		name   string
		policy any
		plan   string
		want   string
	}{
		{name: "default", want: "sms"},
		{name: "plan channel", plan: "email", want: "email"},
		{name: "policy wins", policy: "push", plan: "email", want: "push"},
		{name: "kakao normalized", policy: "kakao", want: "kakao_at"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			if tt.policy != nil {
				s.policy.Set(s.tenant, "auto_notification.attendance_late.channel", tt.policy)
			}
			params := map[string]any{}
			if tt.plan != "" {
				params["channel"] = tt.plan
			}
			res, err := NewNotifyGuardians("attendance_late").Execute(s.ctx, notifyPlan(s.seedGuardians(1), params), s.hc())
			s.Require().NoError(err)
			s.Equal(models.ResultSuccess, res.Status)

			sent := s.dir.Notifications(s.tenant)
			s.Require().Len(sent, 1)
			s.Equal(tt.want, sent[0].Channel)
			s.Equal("attendance_late", sent[0].EventType)
		})
	}
}

func (s *HandlerSuite) TestNotifyExpandsClassTargets() {
	ids := s.seedGuardians(3)
	class := s.dir.AddClass(s.tenant, models.Class{Name: "중2-A"})
	for _, sid := range ids[:2] {
		s.dir.Enrol(s.tenant, sid, class.ID)
	}
	p := notifyPlan(nil, nil)
	p.Targets = models.PlanTargets{ClassIDs: []string{class.ID}}

	res, err := NewNotifyGuardians("attendance_late").Execute(s.ctx, p, s.hc())
	s.Require().NoError(err)
	s.Equal(2, *res.AffectedCount)
}

func (s *HandlerSuite) TestNotifyWithoutGuardians() {
	st := s.dir.AddStudent(s.tenant, models.Student{Name: "학생"})
	res, err := NewNotifyGuardians("attendance_late").Execute(s.ctx, notifyPlan([]string{st.ID}, nil), s.hc())
	s.Require().NoError(err)
	s.Equal(models.ResultFailed, res.Status)
	s.Equal(models.ErrorCodeTargetNotFound, res.ErrorCode)
}

func TestNotifyFanOutOutcomes(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name       string
		failEvery  int64
		wantStatus models.ResultStatus
		wantCount  int
	}{
		{name: "all queued", wantStatus: models.ResultSuccess, wantCount: 10},
		{name: "some fail", failEvery: 2, wantStatus: models.ResultPartial, wantCount: 5},
		{name: "all fail", failEvery: 1, wantStatus: models.ResultFailed, wantCount: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := directory.NewInMemory()
			tenant := id.TenantID(uuid.New())
			var ids []string
			for range 10 {
				st := dir.AddStudent(tenant, models.Student{Name: "학생"})
				dir.AddGuardian(tenant, models.Guardian{StudentID: st.ID, Phone: "010", Primary: true})
				ids = append(ids, st.ID)
			}
			data := &flakyData{DataAccess: BindTenant(dir, nil, tenant), enqueueFailEvery: tt.failEvery}

			res, err := NewNotifyGuardians("attendance_late").Execute(context.Background(),
				notifyPlan(ids, nil), HandlerContext{TenantID: tenant, Data: data})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, res.Status)
			require.NotNil(t, res.AffectedCount)
			assert.Equal(t, tt.wantCount, *res.AffectedCount)
			assert.LessOrEqual(t, data.maxInFlight.Load(), int64(notifyConcurrency))
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := HandlerFunc(func(context.Context, models.Plan, HandlerContext) (Result, error) { return Result{}, nil })

	require.NoError(t, r.Register("a.exec.x", noop))
	assert.Error(t, r.Register("a.exec.x", noop))
	assert.Error(t, r.Register("", noop))
	assert.True(t, r.Has("a.exec.x"))
	assert.False(t, r.Has("a.exec.y"))

	d := Defaults()
	assert.Equal(t, []string{
		"attendance.exec.notify_guardians_late",
		"student.exec.discharge",
		"student.exec.pause",
		"student.exec.register",
	}, d.Keys())
	assert.False(t, d.Has("attendance.exec.notify_guardians_absent"))
}

// flakyData injects failures into an otherwise real DataAccess.
type flakyData struct {
	DataAccess
	deactivateErr    error
	enqueueFailEvery int64
	calls            atomic.Int64
	inFlight         atomic.Int64
	maxInFlight      atomic.Int64
}

func (f *flakyData) DeactivateEnrolments(ctx context.Context, studentID string) (int, error) {
	if f.deactivateErr != nil {
		return 0, f.deactivateErr
	}
	return f.DataAccess.DeactivateEnrolments(ctx, studentID)
}

func (f *flakyData) EnqueueNotification(ctx context.Context, n models.Notification) error {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxInFlight.Load()
		if cur <= prev || f.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	call := f.calls.Add(1)
	if f.enqueueFailEvery > 0 && call%f.enqueueFailEvery == 0 {
		return errors.New("queue unavailable")
	}
	return f.DataAccess.EnqueueNotification(ctx, n)
}
