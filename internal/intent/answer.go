package intent

import (
	"regexp"
	"strconv"
	"strings"

	"time"

	"github.com/khanflow/assistant/internal/when"
)

var intervalRe = regexp.MustCompile(`\b(\d+)\b`)

// AnswerPartial interprets a clarification reply as the answer to the one
// field the assistant just asked about. It is used when full extraction on
// the reply recognized nothing; a plain "buy milk" in response to a title
// question should still land in the title field.
func AnswerPartial(field, reply string, ref time.Time, loc *time.Location) Partial {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return Partial{}
	}

	switch field {
	case "title":
		return Partial{Title: reply}
	case "dateTime":
		if t, ok := when.Resolve(reply, ref, loc); ok {
			return Partial{DateTime: &t}
		}
		return Partial{}
	case "recurrence.frequency":
		if freq := frequencyFrom(reply); freq != "" {
			return Partial{Recurrence: &PartialRecurrence{Frequency: freq}}
		}
		return Partial{}
	case "recurrence.interval":
		if m := intervalRe.FindStringSubmatch(reply); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return Partial{Recurrence: &PartialRecurrence{Interval: &n}}
			}
		}
		return Partial{}
	default:
		return Partial{}
	}
}

func frequencyFrom(reply string) string {
	s := strings.ToLower(reply)
	switch {
	case strings.Contains(s, "daily"), strings.Contains(s, "every day"):
		return "daily"
	case strings.Contains(s, "weekly"), strings.Contains(s, "every week"):
		return "weekly"
	case strings.Contains(s, "monthly"), strings.Contains(s, "every month"):
		return "monthly"
	}
	return ""
}
