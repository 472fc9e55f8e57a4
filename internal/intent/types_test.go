package intent

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func intp(n int) *int { return &n }

func TestMerge_OverwriteIfPresent(t *testing.T) {
	prev := Fields{Type: TypeCreateTask, Title: "buy milk", Priority: "low"}

	merged, err := Merge(prev, Partial{Title: "buy oat milk", Board: "errands"})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if merged.Title != "buy oat milk" {
		t.Errorf("Title = %q, want overwritten value", merged.Title)
	}
	if merged.Priority != "low" {
		t.Errorf("Priority = %q, want prior value preserved", merged.Priority)
	}
	if merged.Board != "errands" {
		t.Errorf("Board = %q, want errands", merged.Board)
	}
}

func TestMerge_AbsentFieldsLeaveState(t *testing.T) {
	dt := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	prev := Fields{Type: TypeScheduleEvent, Title: "dentist", DateTime: &dt}

	merged, err := Merge(prev, Partial{})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if !reflect.DeepEqual(merged, prev) {
		t.Errorf("Merge with empty partial changed state: %+v", merged)
	}
}

func TestMerge_RecurrenceFieldByField(t *testing.T) {
	prev := Fields{
		Type:       TypeCreateRecurringTask,
		Title:      "water the plants",
		Recurrence: &Recurrence{Frequency: "weekly"},
	}

	merged, err := Merge(prev, Partial{Recurrence: &PartialRecurrence{Interval: intp(2)}})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if merged.Recurrence.Frequency != "weekly" {
		t.Errorf("Frequency = %q, want prior weekly preserved", merged.Recurrence.Frequency)
	}
	if merged.Recurrence.Interval != 2 {
		t.Errorf("Interval = %d, want 2", merged.Recurrence.Interval)
	}
}

func TestMerge_InvalidPayloadRejectedWhole(t *testing.T) {
	prev := Fields{Type: TypeCreateRecurringTask, Title: "standup"}

	// Zero interval is invalid even though the title would be a fine update;
	// the whole payload is rejected and prev stays untouched.
	merged, err := Merge(prev, Partial{Title: "daily standup", Recurrence: &PartialRecurrence{Interval: intp(0)}})

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if ve.Field != "recurrence.interval" {
		t.Errorf("Field = %q, want recurrence.interval", ve.Field)
	}
	if !reflect.DeepEqual(merged, prev) {
		t.Errorf("state changed on rejected payload: %+v", merged)
	}
}

func TestMerge_InvalidFrequency(t *testing.T) {
	_, err := Merge(Fields{}, Partial{Recurrence: &PartialRecurrence{Frequency: "fortnightly"}})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestMerge_InvalidPriority(t *testing.T) {
	_, err := Merge(Fields{}, Partial{Priority: "urgent"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestPending_Order(t *testing.T) {
	f := Fields{Type: TypeCreateRecurringTask}
	want := []string{"title", "recurrence.frequency", "recurrence.interval"}
	if got := Pending(f); !reflect.DeepEqual(got, want) {
		t.Errorf("Pending = %v, want %v", got, want)
	}

	f.Title = "water the plants"
	f.Recurrence = &Recurrence{Frequency: "weekly"}
	want = []string{"recurrence.interval"}
	if got := Pending(f); !reflect.DeepEqual(got, want) {
		t.Errorf("Pending = %v, want %v", got, want)
	}

	f.Recurrence.Interval = 2
	if got := Pending(f); len(got) != 0 {
		t.Errorf("Pending = %v, want empty", got)
	}
}

func TestPending_EventNeedsDateTime(t *testing.T) {
	f := Fields{Type: TypeScheduleEvent, Title: "dentist"}
	want := []string{"dateTime"}
	if got := Pending(f); !reflect.DeepEqual(got, want) {
		t.Errorf("Pending = %v, want %v", got, want)
	}
}

func TestPending_UnknownTypeFallsBackToTask(t *testing.T) {
	f := Fields{Type: ""}
	want := []string{"title"}
	if got := Pending(f); !reflect.DeepEqual(got, want) {
		t.Errorf("Pending = %v, want %v", got, want)
	}
}

func TestMarshalFields_RoundTrip(t *testing.T) {
	dt := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	f := Fields{
		Type:       TypeCreateRecurringTask,
		Title:      "standup",
		DateTime:   &dt,
		Recurrence: &Recurrence{Frequency: "daily", Interval: 1, ByDay: []string{"MO", "TU"}},
		Priority:   "high",
	}

	s, err := MarshalFields(f)
	if err != nil {
		t.Fatalf("MarshalFields failed: %v", err)
	}
	got, err := UnmarshalFields(s)
	if err != nil {
		t.Fatalf("UnmarshalFields failed: %v", err)
	}
	if !reflect.DeepEqual(got, f) {
		t.Errorf("round trip = %+v, want %+v", got, f)
	}
}

func TestAnswerPartial_Title(t *testing.T) {
	p := AnswerPartial("title", "  buy milk  ", testRef, time.UTC)
	if p.Title != "buy milk" {
		t.Errorf("Title = %q, want buy milk", p.Title)
	}
}

func TestAnswerPartial_DateTime(t *testing.T) {
	p := AnswerPartial("dateTime", "tomorrow at 3pm", testRef, time.UTC)
	if p.DateTime == nil {
		t.Fatal("DateTime = nil, want resolved")
	}
	want := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)
	if !p.DateTime.Equal(want) {
		t.Errorf("DateTime = %v, want %v", p.DateTime, want)
	}

	if p := AnswerPartial("dateTime", "whenever", testRef, time.UTC); !p.Empty() {
		t.Errorf("unresolvable reply produced %+v, want empty", p)
	}
}

func TestAnswerPartial_Recurrence(t *testing.T) {
	p := AnswerPartial("recurrence.frequency", "every week", testRef, time.UTC)
	if p.Recurrence == nil || p.Recurrence.Frequency != "weekly" {
		t.Errorf("Recurrence = %+v, want weekly", p.Recurrence)
	}

	p = AnswerPartial("recurrence.interval", "every 2 weeks", testRef, time.UTC)
	if p.Recurrence == nil || p.Recurrence.Interval == nil || *p.Recurrence.Interval != 2 {
		t.Errorf("Recurrence = %+v, want interval 2", p.Recurrence)
	}
}

func TestAnswerPartial_UnknownField(t *testing.T) {
	if p := AnswerPartial("board", "work", testRef, time.UTC); !p.Empty() {
		t.Errorf("unknown field produced %+v, want empty", p)
	}
}
