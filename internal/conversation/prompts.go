package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/khanflow/assistant/internal/intent"
)

// fieldQuestions maps each required field to the clarification question the
// assistant asks for it. One question targets exactly one field.
var fieldQuestions = map[string]string{
	"title":                "What should I call it?",
	"dateTime":             "When should it happen? You can say things like \"tomorrow at 3pm\".",
	"recurrence.frequency": "How often should it repeat — daily, weekly, or monthly?",
	"recurrence.interval":  "Every how many days/weeks/months? Say a number, like \"every 2 weeks\".",
}

func questionFor(field string) string {
	if q, ok := fieldQuestions[field]; ok {
		return q
	}
	return fmt.Sprintf("Could you tell me the %s?", field)
}

// confirmationFor summarizes the accumulated intent and asks for a go-ahead.
func confirmationFor(f intent.Fields, loc *time.Location) string {
	var sb strings.Builder
	switch f.Type {
	case intent.TypeScheduleEvent:
		fmt.Fprintf(&sb, "I'll schedule %q", f.Title)
		if f.DateTime != nil {
			fmt.Fprintf(&sb, " for %s", f.DateTime.In(loc).Format("Monday, Jan 2 at 3:04pm"))
		}
	case intent.TypeCreateRecurringTask:
		fmt.Fprintf(&sb, "I'll create the recurring task %q", f.Title)
		if f.Recurrence != nil {
			fmt.Fprintf(&sb, " repeating %s", describeRecurrence(*f.Recurrence))
		}
	default:
		fmt.Fprintf(&sb, "I'll add the task %q", f.Title)
		if f.DateTime != nil {
			fmt.Fprintf(&sb, " due %s", f.DateTime.In(loc).Format("Monday, Jan 2 at 3:04pm"))
		}
	}
	if f.Priority != "" {
		fmt.Fprintf(&sb, " with %s priority", f.Priority)
	}
	if f.Board != "" {
		fmt.Fprintf(&sb, " on your %s board", f.Board)
	}
	sb.WriteString(". Shall I go ahead?")
	return sb.String()
}

func describeRecurrence(r intent.Recurrence) string {
	unit := map[string]string{"daily": "day", "weekly": "week", "monthly": "month"}[r.Frequency]
	if r.Interval <= 1 {
		return fmt.Sprintf("every %s", unit)
	}
	return fmt.Sprintf("every %d %ss", r.Interval, unit)
}

var affirmatives = []string{"yes", "yep", "yeah", "sure", "ok", "okay", "confirm", "go ahead", "do it", "sounds good", "correct"}
var negatives = []string{"no", "nope", "wrong", "cancel", "don't", "change", "not quite", "incorrect"}

func isAffirmative(text string) bool {
	return matchesAny(text, affirmatives)
}

func isNegative(text string) bool {
	return matchesAny(text, negatives)
}

func matchesAny(text string, candidates []string) bool {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Trim(s, ".!,")
	for _, c := range candidates {
		if s == c || strings.HasPrefix(s, c+" ") || strings.HasPrefix(s, c+",") {
			return true
		}
	}
	return false
}
