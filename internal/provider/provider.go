// Package provider is the boundary to the user's task and calendar apps.
// The service talks to a provider bridge that holds the OAuth credentials
// and fans requests out to Google/Microsoft APIs; here those are opaque
// fallible remote calls bounded by the caller's context.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Conflict describes an existing calendar entry overlapping a proposed slot.
type Conflict struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Calendar  string    `json:"calendar"`
}

// ConflictResult is the outcome of a conflict check.
type ConflictResult struct {
	HasConflicts bool      `json:"has_conflicts"`
	Conflict     *Conflict `json:"conflict,omitempty"`
}

// TaskRequest is a downstream task creation payload.
type TaskRequest struct {
	UserID      string        `json:"user_id"`
	App         string        `json:"app,omitempty"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Priority    string        `json:"priority,omitempty"`
	Board       string        `json:"board,omitempty"`
	DueTime     *time.Time    `json:"due_time,omitempty"`
	Recurrence  *TaskRecurrence `json:"recurrence,omitempty"`
}

// TaskRecurrence mirrors the recurrence rule in provider payload form.
type TaskRecurrence struct {
	Frequency string     `json:"frequency"`
	Interval  int        `json:"interval"`
	ByDay     []string   `json:"by_day,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// EventRequest is a downstream calendar event creation payload.
type EventRequest struct {
	UserID      string    `json:"user_id"`
	App         string    `json:"app,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
}

// Executor is what the conversation core needs from the provider side.
type Executor interface {
	CheckConflicts(ctx context.Context, start, end time.Time, calendarID string) (ConflictResult, error)
	CreateTask(ctx context.Context, req TaskRequest) error
	CreateEvent(ctx context.Context, req EventRequest) error
}

// DownstreamError wraps a failed provider, transcription, or extraction
// call. Timeout distinguishes deadline expiry from other failures; both are
// recoverable within the conversation.
type DownstreamError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *DownstreamError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *DownstreamError) Unwrap() error { return e.Err }

// Downstream wraps err as a DownstreamError for op, flagging timeouts.
func Downstream(op string, err error) *DownstreamError {
	return &DownstreamError{
		Op:      op,
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}
