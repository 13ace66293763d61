package tasks

import (
	"fmt"
	"time"

	kerrors "github.com/vinayprograms/taskkit/errors"
)

// Sentinel errors. They match by code, so errors.Is(err, ErrNotFound) holds
// for any NOT_FOUND error regardless of message or task id.
var (
	ErrNotFound         = kerrors.FromCode(kerrors.ErrCodeNotFound)
	ErrAlreadyCompleted = kerrors.FromCode(kerrors.ErrCodeAlreadyCompleted)
	ErrFieldTooLarge    = kerrors.FromCode(kerrors.ErrCodeFieldTooLarge)
	ErrIDExhausted      = kerrors.FromCode(kerrors.ErrCodeIDExhausted)
	ErrInvalidInput     = kerrors.FromCode(kerrors.ErrCodeInvalidInput)
	ErrBusy             = kerrors.FromCode(kerrors.ErrCodeResourceBusy)
)

// ID is an opaque task identifier, unique among stored tasks.
type ID string

// String returns the id as text.
func (id ID) String() string {
	return string(id)
}

// Status represents the lifecycle state of a task.
type Status string

const (
	// StatusPending is the initial state.
	StatusPending Status = "pending"

	// StatusInProgress marks a task being worked on.
	StatusInProgress Status = "in_progress"

	// StatusDone marks a completed task.
	StatusDone Status = "done"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ParseStatus maps text to a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", kerrors.InvalidInput(fmt.Sprintf("unknown status %q", s))
	}
	return st, nil
}

// Priority bounds. Every write clamps into [MinPriority, MaxPriority].
const (
	MinPriority = 1
	MaxPriority = 5
)

// ClampPriority returns p limited to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	return min(max(p, MinPriority), MaxPriority)
}

// Date is a calendar day with no time zone, rendered as YYYY-MM-DD.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, kerrors.InvalidInput(fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s))
	}
	return DateOf(t), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Task is one stored work item.
type Task struct {
	ID          ID        `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"`
	Status      Status    `json:"status"`
	DueDate     *Date     `json:"due_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Seq is the store-wide insertion sequence; List orders by it.
	Seq uint64 `json:"seq"`
}

// Completed reports whether the task is done.
func (t *Task) Completed() bool {
	return t.Status == StatusDone
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	clone := *t
	if t.DueDate != nil {
		due := *t.DueDate
		clone.DueDate = &due
	}
	return &clone
}

// Draft holds the caller-supplied fields of a new task.
type Draft struct {
	Title       string
	Description string
	Priority    int
	DueDate     *Date
}

// Changes is a partial update. Nil fields are left untouched.
type Changes struct {
	Title       *string
	Description *string
	Priority    *int
	DueDate     *Date
}

// Empty reports whether no field is set.
func (c Changes) Empty() bool {
	return c.Title == nil && c.Description == nil && c.Priority == nil && c.DueDate == nil
}

// Fields lists the names of the set fields.
func (c Changes) Fields() []string {
	var f []string
	if c.Title != nil {
		f = append(f, "title")
	}
	if c.Description != nil {
		f = append(f, "description")
	}
	if c.Priority != nil {
		f = append(f, "priority")
	}
	if c.DueDate != nil {
		f = append(f, "due_date")
	}
	return f
}

// Limits caps text fields in bytes. Zero means unbounded.
type Limits struct {
	MaxTitleBytes       int
	MaxDescriptionBytes int
}

// BoundedLimits are the caps of size-constrained deployments.
var BoundedLimits = Limits{
	MaxTitleBytes:       256,
	MaxDescriptionBytes: 1024,
}

func (l Limits) checkTitle(title string) error {
	if l.MaxTitleBytes > 0 && len(title) > l.MaxTitleBytes {
		return kerrors.FieldTooLarge("title", l.MaxTitleBytes, len(title))
	}
	return nil
}

func (l Limits) checkDescription(desc string) error {
	if l.MaxDescriptionBytes > 0 && len(desc) > l.MaxDescriptionBytes {
		return kerrors.FieldTooLarge("description", l.MaxDescriptionBytes, len(desc))
	}
	return nil
}
