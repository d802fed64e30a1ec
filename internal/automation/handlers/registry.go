// Package handlers holds the side-effecting executors behind Execute-level
// intents and the registry the gateway dispatches through.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"taskgate/internal/automation/models"
	id "taskgate/pkg/domain"
)

// Result is what a handler reports. Status is success, partial or failed.
type Result struct {
	Status        models.ResultStatus
	ErrorCode     string
	Message       string
	AffectedCount *int
}

// HandlerContext is everything a handler may touch. Data is already bound to
// TenantID, so a handler has no way to name another tenant.
type HandlerContext struct {
	TenantID  id.TenantID
	ActorID   id.UserID
	ActorRole string
	Now       time.Time
	Data      DataAccess
	Logger    *slog.Logger
}

// Handler executes one plan. A returned error means the handler could not
// run at all; business failures are a Result with status failed.
type Handler interface {
	Execute(ctx context.Context, plan models.Plan, hc HandlerContext) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, plan models.Plan, hc HandlerContext) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, plan models.Plan, hc HandlerContext) (Result, error) {
	return f(ctx, plan, hc)
}

// Registry maps intent keys to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(intentKey string, h Handler) error {
	if intentKey == "" {
		return fmt.Errorf("handler registration requires an intent key")
	}
	if h == nil {
		return fmt.Errorf("handler for %q is nil", intentKey)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[intentKey]; dup {
		return fmt.Errorf("handler for %q already registered", intentKey)
	}
	r.handlers[intentKey] = h
	return nil
}

func (r *Registry) Get(intentKey string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[intentKey]
	return h, ok
}

func (r *Registry) Has(intentKey string) bool {
	_, ok := r.Get(intentKey)
	return ok
}

// Keys lists registered intent keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Defaults returns a registry with every built-in handler.
// attendance.exec.notify_guardians_absent is deliberately absent; executing
// it reports handler_not_registered.
func Defaults() *Registry {
	r := NewRegistry()
	for key, h := range map[string]Handler{
		"student.exec.discharge":                HandlerFunc(Discharge),
		"student.exec.pause":                    HandlerFunc(Pause),
		"student.exec.register":                 HandlerFunc(Register),
		"attendance.exec.notify_guardians_late": NewNotifyGuardians("attendance_late"),
	} {
		if err := r.Register(key, h); err != nil {
			panic(err)
		}
	}
	return r
}

func succeeded(affected int, msg string) Result {
	return Result{Status: models.ResultSuccess, AffectedCount: &affected, Message: msg}
}

func failed(code, msg string) Result {
	return Result{Status: models.ResultFailed, ErrorCode: code, Message: msg}
}
