package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"

	id "taskgate/pkg/domain"
	"taskgate/pkg/requestcontext"
)

// NewPrincipal returns a caller in a fresh tenant with the given role.
func NewPrincipal(role string) requestcontext.Principal {
	return requestcontext.Principal{
		TenantID: id.TenantID(uuid.New()),
		UserID:   id.UserID(uuid.New()),
		Role:     role,
	}
}

// WithPrincipal attaches p to the request context, as the auth middleware
// does after verifying a token.
func WithPrincipal(req *http.Request, p requestcontext.Principal) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), p))
}

// PrincipalContext is a background context carrying p.
func PrincipalContext(t *testing.T, p requestcontext.Principal) context.Context {
	t.Helper()
	return requestcontext.WithPrincipal(context.Background(), p)
}
