// Package draft runs the multi-turn parameter collection state machine and
// turns ready drafts into pending tasks.
package draft

import (
	"context"
	"errors"
	"log/slog"
	"maps"

	"taskgate/internal/automation/catalog"
	"taskgate/internal/automation/metrics"
	"taskgate/internal/automation/models"
	"taskgate/internal/automation/parser"
	id "taskgate/pkg/domain"
	dErrors "taskgate/pkg/domain-errors"
	"taskgate/pkg/platform/sentinel"
	"taskgate/pkg/requestcontext"
)

// Store persists drafts. Update is a compare-and-swap on Version.
type Store interface {
	// CreateIfAbsent inserts d unless an active draft already holds d's key,
	// in which case the existing draft is returned.
	CreateIfAbsent(ctx context.Context, d *models.Draft) (*models.Draft, error)
	FindActive(ctx context.Context, key models.DraftKey) (*models.Draft, error)
	FindByID(ctx context.Context, tenantID id.TenantID, draftID id.DraftID) (*models.Draft, error)
	// Update writes d when the stored version equals expectedVersion and
	// bumps d.Version. A stale version yields sentinel.ErrConflict.
	Update(ctx context.Context, d *models.Draft, expectedVersion int64) error
}

type TaskStore interface {
	Create(ctx context.Context, t *models.Task) error
}

// Normalizer rewrites raw params into canonical identifiers and dates.
type Normalizer interface {
	Normalize(ctx context.Context, tenantID id.TenantID, intentKey string, params map[string]any) map[string]any
}

type IntentParser interface {
	Parse(text string) (*parser.ParsedIntent, error)
}

// Transactor groups store writes. Postgres stores join the transaction carried in ctx.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	drafts     Store
	tasks      TaskStore
	normalizer Normalizer
	parser     IntentParser
	catalogs   *catalog.Set
	tx         Transactor
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTransactor groups propose writes. A nil tx keeps the inline default.
func WithTransactor(tx Transactor) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// WithParser enables Intake.
func WithParser(p IntentParser) Option {
	return func(s *Service) {
		s.parser = p
	}
}

func New(drafts Store, tasks TaskStore, normalizer Normalizer, catalogs *catalog.Set, opts ...Option) *Service {
	s := &Service{
		drafts:     drafts,
		tasks:      tasks,
		normalizer: normalizer,
		catalogs:   catalogs,
		tx:         inlineTx{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inlineTx runs fn directly; used when no transactor is configured.
type inlineTx struct{}

func (inlineTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Result is a draft plus the prompt for the next missing piece.
type Result struct {
	Draft        *models.Draft `json:"draft"`
	NextQuestion string        `json:"next_question,omitempty"`
}

// GetOrCreate returns the active draft for key or starts a new one.
func (s *Service) GetOrCreate(ctx context.Context, key models.DraftKey) (*models.Draft, error) {
	def, ok := s.catalogs.Intents.Get(key.IntentKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown intent: "+key.IntentKey)
	}

	existing, err := s.drafts.FindActive(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load draft")
	}

	d, err := models.NewDraft(key.SessionID, key.TenantID, key.UserID, key.IntentKey, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	// A fresh draft is ready immediately when its intent requires nothing.
	d.ApplyParams(d.Params, def.Rules.Evaluate(d.Params), d.CreatedAt)

	stored, err := s.drafts.CreateIfAbsent(ctx, d)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create draft")
	}
	if stored.ID == d.ID {
		s.logger.InfoContext(ctx, "draft created",
			"request_id", requestcontext.RequestID(ctx),
			"draft_id", d.ID.String(),
			"intent_key", d.IntentKey,
		)
	}
	return stored, nil
}

// Get is a tenant-scoped read.
func (s *Service) Get(ctx context.Context, tenantID id.TenantID, draftID id.DraftID) (*Result, error) {
	d, err := s.load(ctx, tenantID, draftID)
	if err != nil {
		return nil, err
	}
	return &Result{Draft: d, NextQuestion: nextQuestion(d)}, nil
}

// ApplyParams merges params, resolves references and recomputes what is missing.
// expectedVersion 0 means "whatever is current".
func (s *Service) ApplyParams(ctx context.Context, tenantID id.TenantID, draftID id.DraftID, expectedVersion int64, params map[string]any) (*Result, error) {
	d, err := s.load(ctx, tenantID, draftID)
	if err != nil {
		return nil, err
	}
	if err := d.CanUpdate(); err != nil {
		return nil, err
	}
	if expectedVersion == 0 {
		expectedVersion = d.Version
	}
	if expectedVersion != d.Version {
		return nil, dErrors.New(dErrors.CodeConflict, "draft was modified concurrently; reload and retry")
	}

	def, ok := s.catalogs.Intents.Get(d.IntentKey)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, "draft intent no longer in catalog")
	}

	merged := maps.Clone(d.Params)
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range params {
		if models.IsReservedParam(k) {
			continue
		}
		merged[k] = v
	}
	merged = s.normalizer.Normalize(ctx, tenantID, d.IntentKey, merged)
	missing := def.Rules.Evaluate(merged)

	d.ApplyParams(merged, missing, requestcontext.Now(ctx))
	if err := s.drafts.Update(ctx, d, expectedVersion); err != nil {
		return nil, translateStoreErr(err, "failed to update draft")
	}

	s.logger.InfoContext(ctx, "draft params applied",
		"request_id", requestcontext.RequestID(ctx),
		"draft_id", d.ID.String(),
		"intent_key", d.IntentKey,
		"status", string(d.Status),
		"missing", len(missing),
	)
	return &Result{Draft: d, NextQuestion: nextQuestion(d)}, nil
}

// Cancel closes an active draft. Cancelling twice is not an error.
func (s *Service) Cancel(ctx context.Context, tenantID id.TenantID, draftID id.DraftID) (*models.Draft, error) {
	d, err := s.load(ctx, tenantID, draftID)
	if err != nil {
		return nil, err
	}
	if d.Status == models.DraftCancelled {
		return d, nil
	}
	expected := d.Version
	if err := d.Cancel(requestcontext.Now(ctx)); err != nil {
		return nil, err
	}
	if err := s.drafts.Update(ctx, d, expected); err != nil {
		return nil, translateStoreErr(err, "failed to cancel draft")
	}
	s.logger.InfoContext(ctx, "draft cancelled",
		"request_id", requestcontext.RequestID(ctx),
		"draft_id", d.ID.String(),
	)
	return d, nil
}

func (s *Service) load(ctx context.Context, tenantID id.TenantID, draftID id.DraftID) (*models.Draft, error) {
	d, err := s.drafts.FindByID(ctx, tenantID, draftID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "draft not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load draft")
	}
	return d, nil
}

func translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "draft was modified concurrently; reload and retry")
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "draft not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
