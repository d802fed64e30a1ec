package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskgate/internal/automation/models"
	"taskgate/pkg/platform/sentinel"
)

type dischargeParams struct {
	StudentID      string `mapstructure:"student_id"`
	Date           string `mapstructure:"date"`
	Reason         string `mapstructure:"reason"`
	SettlementMode string `mapstructure:"settlement_mode"`
}

// Discharge withdraws a student, appends a discharge note and deactivates
// enrolments. Enrolment failure after the status change is partial.
func Discharge(ctx context.Context, plan models.Plan, hc HandlerContext) (Result, error) {
	var p dischargeParams
	if err := decodeParams(plan.Params, &p); err != nil {
		return failed(models.ErrorCodeInvalidParams, err.Error()), nil
	}
	if p.StudentID == "" || p.Date == "" {
		return failed(models.ErrorCodeInvalidParams, "student_id and date are required"), nil
	}

	if err := hc.Data.UpdateStudentStatus(ctx, p.StudentID, models.StudentWithdrawn, dischargeNote(p)); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return failed(models.ErrorCodeTargetNotFound, "student not found"), nil
		}
		return Result{}, fmt.Errorf("withdraw student: %w", err)
	}

	if _, err := hc.Data.DeactivateEnrolments(ctx, p.StudentID); err != nil {
		if hc.Logger != nil {
			hc.Logger.WarnContext(ctx, "enrolment deactivation failed after discharge",
				"tenant_id", hc.TenantID.String(), "error", err)
		}
		one := 1
		return Result{
			Status:        models.ResultPartial,
			ErrorCode:     models.ErrorCodePartialSuccess,
			Message:       "student withdrawn; class enrolments could not be closed",
			AffectedCount: &one,
		}, nil
	}
	return succeeded(1, "student withdrawn"), nil
}

// dischargeNote renders "[퇴원] <date>: <reason> (정산: <mode>)", omitting the
// reason and settlement parts when empty.
func dischargeNote(p dischargeParams) string {
	var b strings.Builder
	b.WriteString("[퇴원] ")
	b.WriteString(p.Date)
	if p.Reason != "" {
		b.WriteString(": ")
		b.WriteString(p.Reason)
	}
	if p.SettlementMode != "" {
		b.WriteString(" (정산: ")
		b.WriteString(p.SettlementMode)
		b.WriteString(")")
	}
	return b.String()
}

type pauseParams struct {
	StudentID string `mapstructure:"student_id"`
	From      string `mapstructure:"from"`
	To        string `mapstructure:"to"`
	Reason    string `mapstructure:"reason"`
}

// Pause puts a student on leave with a "[휴원] from ~ to: reason" note.
func Pause(ctx context.Context, plan models.Plan, hc HandlerContext) (Result, error) {
	var p pauseParams
	if err := decodeParams(plan.Params, &p); err != nil {
		return failed(models.ErrorCodeInvalidParams, err.Error()), nil
	}
	if p.StudentID == "" || p.From == "" {
		return failed(models.ErrorCodeInvalidParams, "student_id and from are required"), nil
	}

	note := "[휴원] " + p.From
	if p.To != "" {
		note += " ~ " + p.To
	}
	if p.Reason != "" {
		note += ": " + p.Reason
	}
	if err := hc.Data.UpdateStudentStatus(ctx, p.StudentID, models.StudentOnLeave, note); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return failed(models.ErrorCodeTargetNotFound, "student not found"), nil
		}
		return Result{}, fmt.Errorf("pause student: %w", err)
	}
	return succeeded(1, "student on leave"), nil
}

type registerParams struct {
	FormValues struct {
		Name          string `mapstructure:"name"`
		Phone         string `mapstructure:"phone"`
		Grade         string `mapstructure:"grade"`
		HasGuardian   bool   `mapstructure:"has_guardian"`
		GuardianName  string `mapstructure:"guardian_name"`
		GuardianPhone string `mapstructure:"guardian_phone"`
	} `mapstructure:"form_values"`
}

// Register creates a student, and a primary guardian when has_guardian is set.
func Register(ctx context.Context, plan models.Plan, hc HandlerContext) (Result, error) {
	var p registerParams
	if err := decodeParams(plan.Params, &p); err != nil {
		return failed(models.ErrorCodeInvalidParams, err.Error()), nil
	}
	fv := p.FormValues
	if strings.TrimSpace(fv.Name) == "" {
		return failed(models.ErrorCodeInvalidParams, "form_values.name is required"), nil
	}
	if fv.HasGuardian && fv.GuardianPhone == "" {
		return failed(models.ErrorCodeInvalidParams, "form_values.guardian_phone is required"), nil
	}

	in := models.NewStudent{Name: strings.TrimSpace(fv.Name), Phone: fv.Phone, Grade: fv.Grade}
	if fv.HasGuardian {
		in.GuardianName = fv.GuardianName
		in.GuardianPhone = fv.GuardianPhone
	}
	if _, err := hc.Data.CreateStudent(ctx, in); err != nil {
		return Result{}, fmt.Errorf("create student: %w", err)
	}
	return succeeded(1, "student registered"), nil
}
