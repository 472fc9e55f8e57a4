package intent

import (
	"encoding/json"
	"fmt"
	"time"
)

// Supported intent types.
const (
	TypeCreateTask          = "create_task"
	TypeScheduleEvent       = "schedule_event"
	TypeCreateRecurringTask = "create_recurring_task"
)

// Supported recurrence frequencies.
var validFrequencies = map[string]bool{
	"daily":   true,
	"weekly":  true,
	"monthly": true,
}

// Supported priorities.
var validPriorities = map[string]bool{
	"low":    true,
	"medium": true,
	"high":   true,
}

// Recurrence describes how a recurring task repeats.
type Recurrence struct {
	Frequency string     `json:"frequency"`
	Interval  int        `json:"interval"`
	ByDay     []string   `json:"by_day,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Fields is the accumulated structured intent of a conversation. Zero/nil
// values mean the field has not been supplied yet.
type Fields struct {
	Type        string      `json:"type,omitempty"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	DateTime    *time.Time  `json:"date_time,omitempty"`
	Timezone    string      `json:"timezone,omitempty"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
	Priority    string      `json:"priority,omitempty"`
	Board       string      `json:"board,omitempty"`
}

// PartialRecurrence carries the recurrence fields one turn recognized.
// Interval is a pointer so an explicit zero (invalid) is distinguishable
// from the field simply not having been stated.
type PartialRecurrence struct {
	Frequency string     `json:"frequency,omitempty"`
	Interval  *int       `json:"interval,omitempty"`
	ByDay     []string   `json:"by_day,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Partial is the normalized extraction result of a single turn. Fields the
// extractor did not recognize stay zero/nil and never erase prior state.
type Partial struct {
	Type        string             `json:"type,omitempty"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	DateTime    *time.Time         `json:"date_time,omitempty"`
	Recurrence  *PartialRecurrence `json:"recurrence,omitempty"`
	Priority    string             `json:"priority,omitempty"`
	Board       string             `json:"board,omitempty"`
	Confidence  float64            `json:"confidence,omitempty"`
}

// Empty reports whether the turn yielded no recognized fields at all.
func (p Partial) Empty() bool {
	return p.Type == "" && p.Title == "" && p.Description == "" &&
		p.DateTime == nil && p.Recurrence == nil && p.Priority == "" && p.Board == ""
}

// ValidationError reports a parsed payload that violates the intent schema.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Merge applies a turn's partial extraction onto the accumulated fields.
// Policy is field-level overwrite-if-present: a recognized value replaces
// the prior one, an absent value leaves it untouched. A payload carrying an
// invalid recurrence is rejected whole, leaving prev unchanged.
func Merge(prev Fields, p Partial) (Fields, error) {
	if p.Recurrence != nil {
		if p.Recurrence.Frequency != "" && !validFrequencies[p.Recurrence.Frequency] {
			return prev, &ValidationError{Field: "recurrence.frequency", Reason: fmt.Sprintf("unsupported frequency %q", p.Recurrence.Frequency)}
		}
		if p.Recurrence.Interval != nil && *p.Recurrence.Interval <= 0 {
			return prev, &ValidationError{Field: "recurrence.interval", Reason: fmt.Sprintf("interval must be positive, got %d", *p.Recurrence.Interval)}
		}
	}
	if p.Priority != "" && !validPriorities[p.Priority] {
		return prev, &ValidationError{Field: "priority", Reason: fmt.Sprintf("unsupported priority %q", p.Priority)}
	}

	merged := prev
	if p.Type != "" {
		merged.Type = p.Type
	}
	if p.Title != "" {
		merged.Title = p.Title
	}
	if p.Description != "" {
		merged.Description = p.Description
	}
	if p.DateTime != nil {
		t := *p.DateTime
		merged.DateTime = &t
	}
	if p.Recurrence != nil {
		r := Recurrence{}
		if prev.Recurrence != nil {
			r = *prev.Recurrence
		}
		if p.Recurrence.Frequency != "" {
			r.Frequency = p.Recurrence.Frequency
		}
		if p.Recurrence.Interval != nil {
			r.Interval = *p.Recurrence.Interval
		}
		if p.Recurrence.ByDay != nil {
			r.ByDay = p.Recurrence.ByDay
		}
		if p.Recurrence.Until != nil {
			u := *p.Recurrence.Until
			r.Until = &u
		}
		merged.Recurrence = &r
	}
	if p.Priority != "" {
		merged.Priority = p.Priority
	}
	if p.Board != "" {
		merged.Board = p.Board
	}
	return merged, nil
}

// requiredFields declares, per intent type, which fields must be present
// before execution and in which order clarification questions are asked.
// The order is fixed so identical inputs always produce identical
// clarification sequences.
var requiredFields = map[string][]string{
	TypeCreateTask:          {"title"},
	TypeScheduleEvent:       {"title", "dateTime"},
	TypeCreateRecurringTask: {"title", "recurrence.frequency", "recurrence.interval"},
}

// RequiredFieldsFor returns the ordered required-field names for the given
// intent type. Unknown types fall back to the create_task requirements.
func RequiredFieldsFor(intentType string) []string {
	fields, ok := requiredFields[intentType]
	if !ok {
		fields = requiredFields[TypeCreateTask]
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// Has reports whether the named required field carries a non-zero value.
func (f Fields) Has(name string) bool {
	switch name {
	case "title":
		return f.Title != ""
	case "dateTime":
		return f.DateTime != nil
	case "recurrence.frequency":
		return f.Recurrence != nil && f.Recurrence.Frequency != ""
	case "recurrence.interval":
		return f.Recurrence != nil && f.Recurrence.Interval > 0
	default:
		return false
	}
}

// Pending returns required − present for the fields' intent type, preserving
// the declared order.
func Pending(f Fields) []string {
	pending := []string{}
	for _, name := range RequiredFieldsFor(f.Type) {
		if !f.Has(name) {
			pending = append(pending, name)
		}
	}
	return pending
}

// MarshalFields serializes accumulated fields for storage.
func MarshalFields(f Fields) (string, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("marshalling intent fields: %w", err)
	}
	return string(b), nil
}

// UnmarshalFields restores accumulated fields from storage. Empty input
// yields zero Fields.
func UnmarshalFields(s string) (Fields, error) {
	var f Fields
	if s == "" || s == "{}" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return Fields{}, fmt.Errorf("unmarshalling intent fields: %w", err)
	}
	return f, nil
}
