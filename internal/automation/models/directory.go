package models

import "time"

// StudentStatus is the enrolment state of a student.
type StudentStatus string

const (
	StudentActive    StudentStatus = "active"
	StudentOnLeave   StudentStatus = "on_leave"
	StudentWithdrawn StudentStatus = "withdrawn"
)

// Student is a directory row. Phone is never logged unmasked.
type Student struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Phone  string        `json:"phone,omitempty"`
	Grade  string        `json:"grade,omitempty"`
	Status StudentStatus `json:"status"`
	Notes  []string      `json:"notes,omitempty"`
}

// NewStudent is the input for creating a student.
type NewStudent struct {
	Name          string
	Phone         string
	Grade         string
	GuardianName  string
	GuardianPhone string
}

type Guardian struct {
	ID        string `json:"id"`
	StudentID string `json:"student_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Primary   bool   `json:"primary"`
}

type Class struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Notification is a queued message row; a separate sender delivers it.
type Notification struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	GuardianID string    `json:"guardian_id"`
	Channel    string    `json:"channel"`
	EventType  string    `json:"event_type"`
	Recipient  string    `json:"recipient"`
	CreatedAt  time.Time `json:"created_at"`
}
