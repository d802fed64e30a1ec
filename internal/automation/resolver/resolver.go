// Package resolver rewrites raw draft params into canonical identifiers and dates.
//
// Person references go through a name cascade against the tenant roster; class
// names resolve by exact match; date fields become YYYY-MM-DD in the canonical
// timezone. Unresolved references are recorded as markers in params rather
// than returned as errors, so the draft can ask a follow-up question.
package resolver

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/metrics"
	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
	"taskgate/pkg/requestcontext"
)

const (
	fieldStudentID = "student_id"
	fieldName      = "name"
	fieldClassID   = "class_id"
	fieldClassName = "class_name"

	defaultMaxCandidates = 5
	rosterLimit          = 5000
)

// Directory is the tenant-scoped lookup the resolver reads from.
type Directory interface {
	ListStudents(ctx context.Context, tenantID id.TenantID, limit int) ([]models.Student, error)
	FindClassesByName(ctx context.Context, tenantID id.TenantID, name string) ([]models.Class, error)
}

// legacyPersonIntents resolve person names even without catalog metadata.
var legacyPersonIntents = map[string]struct{}{
	"student.exec.discharge": {},
	"student.exec.pause":     {},
}

type Resolver struct {
	dir           Directory
	intents       *catalog.IntentCatalog
	loc           *time.Location
	maxCandidates int
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Resolver)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithLocation sets the canonical timezone for relative dates.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithMaxCandidates(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxCandidates = n
		}
	}
}

func New(dir Directory, intents *catalog.IntentCatalog, opts ...Option) *Resolver {
	r := &Resolver{
		dir:           dir,
		intents:       intents,
		loc:           seoul(),
		maxCandidates: defaultMaxCandidates,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func seoul() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// Normalize returns a rewritten copy of params. The input map is not modified.
func (r *Resolver) Normalize(ctx context.Context, tenantID id.TenantID, intentKey string, params map[string]any) map[string]any {
	out := maps.Clone(params)
	if out == nil {
		out = map[string]any{}
	}

	normalizeDates(out, requestcontext.Now(ctx).In(r.loc))

	person, class := r.optIn(intentKey)
	if person {
		r.resolvePerson(ctx, tenantID, out)
	}
	if class {
		r.resolveClass(ctx, tenantID, out)
	}
	return out
}

func (r *Resolver) optIn(intentKey string) (person, class bool) {
	if def, ok := r.intents.Get(intentKey); ok && def.Resolver != nil {
		person, class = def.Resolver.Person, def.Resolver.Class
	}
	if _, ok := legacyPersonIntents[intentKey]; ok {
		person = true
	}
	return person, class
}

func (r *Resolver) resolvePerson(ctx context.Context, tenantID id.TenantID, out map[string]any) {
	rawID, _ := out[fieldStudentID].(string)
	if id.IsUUID(rawID) || r.alreadyResolved(out, fieldStudentID, rawID) {
		models.ClearFailure(out, fieldStudentID)
		models.ClearAmbiguous(out, fieldStudentID)
		return
	}
	models.ClearResolved(out, fieldStudentID)

	name, _ := out[fieldName].(string)
	if strings.TrimSpace(name) == "" {
		name = rawID
	}
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return
	}

	// A new reference replaces stale markers from an earlier turn.
	if amb, ok := models.Ambiguities(out)[fieldStudentID]; ok && amb.OriginalValue != name {
		models.ClearAmbiguous(out, fieldStudentID)
	}

	if isPlaceholder(name) {
		r.fail(ctx, out, fieldStudentID, name, models.ReasonInvalidName)
		delete(out, fieldStudentID)
		return
	}

	roster, err := r.dir.ListStudents(ctx, tenantID, rosterLimit)
	if err != nil {
		r.logger.WarnContext(ctx, "student lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", tenantID.String(),
			"name", maskName(name),
			"error", err,
		)
		r.fail(ctx, out, fieldStudentID, name, models.ReasonLookupError)
		// The raw value is a name, not an id; leaving it would satisfy the
		// required field.
		delete(out, fieldStudentID)
		return
	}

	matches := cascade(name, roster)
	switch len(matches) {
	case 0:
		r.fail(ctx, out, fieldStudentID, name, models.ReasonNotFound)
		delete(out, fieldStudentID)
	case 1:
		out[fieldStudentID] = matches[0].ID
		models.SetResolved(out, fieldStudentID, matches[0].ID)
		models.ClearFailure(out, fieldStudentID)
		models.ClearAmbiguous(out, fieldStudentID)
		r.metrics.IncResolution(fieldStudentID, "resolved")
	default:
		if len(matches) > r.maxCandidates {
			matches = matches[:r.maxCandidates]
		}
		cands := make([]models.Candidate, 0, len(matches))
		for _, s := range matches {
			cands = append(cands, models.Candidate{ID: s.ID, Display: displayHint(s)})
		}
		models.SetAmbiguous(out, models.ResolutionAmbiguous{Field: fieldStudentID, OriginalValue: name, Candidates: cands})
		models.ClearFailure(out, fieldStudentID)
		delete(out, fieldStudentID)
		r.metrics.IncResolution(fieldStudentID, "ambiguous")
		r.logger.InfoContext(ctx, "ambiguous student reference",
			"request_id", requestcontext.RequestID(ctx),
			"name", maskName(name),
			"candidates", len(cands),
		)
	}
}

// alreadyResolved reports whether value is the id an earlier turn resolved
// field to. Directory ids are not always UUIDs.
func (r *Resolver) alreadyResolved(out map[string]any, field, value string) bool {
	if value == "" {
		return false
	}
	prev, ok := models.ResolvedValue(out, field)
	return ok && prev == value
}

func (r *Resolver) resolveClass(ctx context.Context, tenantID id.TenantID, out map[string]any) {
	name, _ := out[fieldClassName].(string)
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return
	}
	classID, _ := out[fieldClassID].(string)
	if id.IsUUID(classID) || r.alreadyResolved(out, fieldClassID, classID) {
		return
	}
	models.ClearResolved(out, fieldClassID)

	classes, err := r.dir.FindClassesByName(ctx, tenantID, name)
	if err != nil {
		r.logger.WarnContext(ctx, "class lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"tenant_id", tenantID.String(),
			"error", err,
		)
		r.fail(ctx, out, fieldClassID, name, models.ReasonLookupError)
		return
	}

	switch len(classes) {
	case 0:
		r.fail(ctx, out, fieldClassID, name, models.ReasonNotFound)
	case 1:
		out[fieldClassID] = classes[0].ID
		models.SetResolved(out, fieldClassID, classes[0].ID)
		models.ClearFailure(out, fieldClassID)
		models.ClearAmbiguous(out, fieldClassID)
		r.metrics.IncResolution(fieldClassID, "resolved")
	default:
		cands := make([]models.Candidate, 0, len(classes))
		for i, c := range classes {
			if i == r.maxCandidates {
				break
			}
			cands = append(cands, models.Candidate{ID: c.ID, Display: c.Name})
		}
		models.SetAmbiguous(out, models.ResolutionAmbiguous{Field: fieldClassID, OriginalValue: name, Candidates: cands})
		models.ClearFailure(out, fieldClassID)
		r.metrics.IncResolution(fieldClassID, "ambiguous")
	}
}

// fail records a failure marker unless the field is already ambiguous.
func (r *Resolver) fail(ctx context.Context, out map[string]any, field, original, reason string) {
	r.metrics.IncResolution(field, reason)
	if models.HasAmbiguous(out, field) {
		return
	}
	models.SetFailure(out, models.ResolutionFailure{Field: field, OriginalValue: original, Reason: reason})
	r.logger.InfoContext(ctx, "reference not resolved",
		"request_id", requestcontext.RequestID(ctx),
		"field", field,
		"reason", reason,
	)
}
