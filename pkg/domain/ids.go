// Package domain holds typed identifiers shared across the automation packages.
//
// Every identifier is a distinct named UUID type so a TaskID can never be
// passed where a TenantID is expected. Parse functions are the only way
// untrusted strings become identifiers.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "taskgate/pkg/domain-errors"
)

type (
	TenantID  uuid.UUID
	UserID    uuid.UUID
	SessionID uuid.UUID
	DraftID   uuid.UUID
	TaskID    uuid.UUID
)

func (id TenantID) String() string  { return uuid.UUID(id).String() }
func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id SessionID) String() string { return uuid.UUID(id).String() }
func (id DraftID) String() string   { return uuid.UUID(id).String() }
func (id TaskID) String() string    { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id DraftID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id TaskID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

func NewDraftID() DraftID { return DraftID(uuid.New()) }
func NewTaskID() TaskID   { return TaskID(uuid.New()) }

func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant_id")
	return TenantID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user_id")
	return UserID(u), err
}

func ParseSessionID(s string) (SessionID, error) {
	u, err := parseUUID(s, "session_id")
	return SessionID(u), err
}

func ParseDraftID(s string) (DraftID, error) {
	u, err := parseUUID(s, "draft_id")
	return DraftID(u), err
}

func ParseTaskID(s string) (TaskID, error) {
	u, err := parseUUID(s, "task_id")
	return TaskID(u), err
}

// IsUUID reports whether s is a canonical, non-nil UUID string.
// The resolver uses it to tell an identifier apart from a human name.
func IsUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	return err == nil && u != uuid.Nil
}

func parseUUID(s, field string) (uuid.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, field+" is required")
	}
	// uuid.Parse also accepts urn and braced forms; only the canonical form crosses our boundary.
	if len(s) != 36 {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+field)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+field)
	}
	return u, nil
}

// Text encoding keeps identifiers as canonical strings in JSON and audit payloads.

func (id TenantID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id SessionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id DraftID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id TaskID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error  { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *UserID) UnmarshalText(b []byte) error    { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *SessionID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *DraftID) UnmarshalText(b []byte) error   { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *TaskID) UnmarshalText(b []byte) error    { return unmarshalUUID(b, (*uuid.UUID)(id)) }

func unmarshalUUID(b []byte, dst *uuid.UUID) error {
	u, err := uuid.ParseBytes(b)
	if err != nil {
		return err
	}
	*dst = u
	return nil
}
