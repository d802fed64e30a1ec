// Package handler exposes the conversational draft flow and the execution
// gateway over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"taskgate/internal/automation/models"
	"taskgate/internal/automation/service/draft"
	"taskgate/internal/platform/metrics"
	"taskgate/internal/platform/middleware"
	id "taskgate/pkg/domain"
	dErrors "taskgate/pkg/domain-errors"
	"taskgate/pkg/platform/httputil"
	"taskgate/pkg/requestcontext"
)

const defaultRequestTimeout = 30 * time.Second

// DraftService is the conversational side: intake, parameter collection and proposal.
type DraftService interface {
	Intake(ctx context.Context, session id.SessionID, text string) (*draft.IntakeResult, error)
	Get(ctx context.Context, tenantID id.TenantID, draftID id.DraftID) (*draft.Result, error)
	ApplyParams(ctx context.Context, tenantID id.TenantID, draftID id.DraftID, expectedVersion int64, params map[string]any) (*draft.Result, error)
	Cancel(ctx context.Context, tenantID id.TenantID, draftID id.DraftID) (*models.Draft, error)
	Propose(ctx context.Context, tenantID id.TenantID, userID id.UserID, draftID id.DraftID) (*models.Task, error)
}

// TaskService is the execution gateway.
type TaskService interface {
	Execute(ctx context.Context, taskID id.TaskID, action models.Action, requester requestcontext.Principal) (*models.ExecutionResult, error)
	GetTask(ctx context.Context, taskID id.TaskID, tenantID id.TenantID) (*models.Task, error)
}

// Handler handles the /automation endpoints.
type Handler struct {
	logger         *slog.Logger
	drafts         DraftService
	tasks          TaskService
	metrics        *metrics.Metrics
	jwtValidator   middleware.JWTValidator
	requestTimeout time.Duration
	rateLimit      func(http.Handler) http.Handler
	throttle       func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithRequestTimeout overrides the per-request deadline. Non-positive values are ignored.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.requestTimeout = d
		}
	}
}

// WithRateLimit installs a limiter that runs after authentication.
func WithRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.rateLimit = mw }
}

// WithThrottle installs a limiter that runs before authentication.
func WithThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) { h.throttle = mw }
}

// New creates a new automation Handler.
func New(
	drafts DraftService,
	tasks TaskService,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator,
	opts ...Option,
) *Handler {
	h := &Handler{
		logger:         logger,
		drafts:         drafts,
		tasks:          tasks,
		metrics:        metrics,
		jwtValidator:   jwtValidator,
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the automation routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	automationRouter := chi.NewRouter()
	automationRouter.Use(middleware.Recovery(h.logger))
	automationRouter.Use(middleware.RequestID)
	automationRouter.Use(middleware.RequestTime)
	automationRouter.Use(middleware.Logger(h.logger))
	if h.throttle != nil {
		automationRouter.Use(h.throttle)
	}
	automationRouter.Use(chimw.Timeout(h.requestTimeout))
	automationRouter.Use(middleware.ContentTypeJSON)
	automationRouter.Use(middleware.Latency(h.metrics))
	automationRouter.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	if h.rateLimit != nil {
		automationRouter.Use(h.rateLimit)
	}

	automationRouter.Post("/messages", h.handleMessage)
	automationRouter.Route("/drafts/{id}", func(r chi.Router) {
		r.Get("/", h.handleGetDraft)
		r.Post("/params", h.handleApplyParams)
		r.Post("/cancel", h.handleCancelDraft)
		r.Post("/propose", h.handlePropose)
	})
	automationRouter.Post("/tasks/execute", h.handleExecute)
	automationRouter.Get("/tasks/{id}", h.handleGetTask)

	r.Mount("/automation", automationRouter)
}

type messageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type applyParamsRequest struct {
	Version int64          `json:"version"`
	Params  map[string]any `json:"params"`
}

// executeRequest carries only the action and task; tenant, actor and role
// come from the token.
type executeRequest struct {
	Action models.Action `json:"action"`
	TaskID string        `json:"task_id"`
}

type draftResponse struct {
	Draft *models.Draft `json:"draft"`
}

type taskResponse struct {
	Task *models.Task `json:"task"`
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.principal(w, r); !ok {
		return
	}

	var req messageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.badRequest(ctx, w, err)
		return
	}
	session, err := id.ParseSessionID(req.SessionID)
	if err != nil {
		h.badRequest(ctx, w, dErrors.Wrap(err, dErrors.CodeBadRequest, "session_id must be a UUID"))
		return
	}

	res, err := h.drafts.Intake(ctx, session, req.Text)
	if err != nil {
		h.fail(ctx, w, "intake failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	res, err := h.drafts.Get(ctx, p.TenantID, draftID)
	if err != nil {
		h.fail(ctx, w, "get draft failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleApplyParams(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	var req applyParamsRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.badRequest(ctx, w, err)
		return
	}
	if req.Version < 0 {
		h.badRequest(ctx, w, dErrors.New(dErrors.CodeBadRequest, "version must not be negative"))
		return
	}

	res, err := h.drafts.ApplyParams(ctx, p.TenantID, draftID, req.Version, req.Params)
	if err != nil {
		h.fail(ctx, w, "apply params failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleCancelDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	d, err := h.drafts.Cancel(ctx, p.TenantID, draftID)
	if err != nil {
		h.fail(ctx, w, "cancel draft failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, draftResponse{Draft: d})
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	draftID, ok := h.draftID(w, r)
	if !ok {
		return
	}

	task, err := h.drafts.Propose(ctx, p.TenantID, p.UserID, draftID)
	if err != nil {
		h.fail(ctx, w, "propose failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, taskResponse{Task: task})
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req executeRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.badRequest(ctx, w, err)
		return
	}
	taskID, err := id.ParseTaskID(req.TaskID)
	if err != nil {
		h.badRequest(ctx, w, dErrors.Wrap(err, dErrors.CodeBadRequest, "task_id must be a UUID"))
		return
	}

	res, err := h.tasks.Execute(ctx, taskID, req.Action, p)
	if err != nil {
		h.fail(ctx, w, "execute failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	taskID, err := id.ParseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		h.badRequest(ctx, w, dErrors.Wrap(err, dErrors.CodeBadRequest, "task id must be a UUID"))
		return
	}

	task, err := h.tasks.GetTask(ctx, taskID, p.TenantID)
	if err != nil {
		h.fail(ctx, w, "get task failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, taskResponse{Task: task})
}

// principal reads the caller set by RequireAuth.
func (h *Handler) principal(w http.ResponseWriter, r *http.Request) (requestcontext.Principal, bool) {
	p, ok := requestcontext.PrincipalFrom(r.Context())
	if !ok {
		// RequireAuth sits in front of every route, so this is a wiring bug.
		h.logger.ErrorContext(r.Context(), "principal missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return p, false
	}
	return p, true
}

func (h *Handler) draftID(w http.ResponseWriter, r *http.Request) (id.DraftID, bool) {
	draftID, err := id.ParseDraftID(chi.URLParam(r, "id"))
	if err != nil {
		h.badRequest(r.Context(), w, dErrors.Wrap(err, dErrors.CodeBadRequest, "draft id must be a UUID"))
		return draftID, false
	}
	return draftID, true
}

func (h *Handler) badRequest(ctx context.Context, w http.ResponseWriter, err error) {
	h.logger.WarnContext(ctx, "invalid request",
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}

// fail logs at warn for caller errors and at error for internal ones.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"tenant_id", requestcontext.TenantID(ctx).String(),
		"error", err.Error(),
	)
	httputil.WriteError(w, err)
}
