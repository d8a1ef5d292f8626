package recurrence

import (
	"fmt"
	"time"

	"checkline/internal/domain"
)

// InvalidRuleError reports an unusable recurrence rule. Rules are validated
// when a schedule is created, never at generation time.
type InvalidRuleError struct {
	Kind     domain.RuleKind
	Interval int
	Reason   string
}

func (e InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule %s(%d): %s", e.Kind, e.Interval, e.Reason)
}

// Validate checks rule kind and interval.
func Validate(rule domain.RecurrenceRule) error {
	if rule.Interval < 1 {
		return InvalidRuleError{Kind: rule.Kind, Interval: rule.Interval, Reason: "interval must be >= 1"}
	}
	switch rule.Kind {
	case domain.RuleFixedDays, domain.RuleWeekly, domain.RuleMonthly:
		return nil
	default:
		return InvalidRuleError{Kind: rule.Kind, Interval: rule.Interval, Reason: "unknown kind"}
	}
}

// NextOccurrence returns the occurrence instant following after. Monthly
// rules advance whole calendar months from after and clamp to the last
// valid day of the target month; the day-of-month of earlier occurrences
// is not remembered, so Jan 31 -> Feb 29 -> Mar 29.
func NextOccurrence(rule domain.RecurrenceRule, after time.Time) (time.Time, error) {
	if err := Validate(rule); err != nil {
		return time.Time{}, err
	}
	switch rule.Kind {
	case domain.RuleFixedDays:
		return after.AddDate(0, 0, rule.Interval), nil
	case domain.RuleWeekly:
		return after.AddDate(0, 0, 7*rule.Interval), nil
	case domain.RuleMonthly:
		return addMonthsClamped(after, rule.Interval), nil
	}
	// unreachable after Validate
	return time.Time{}, InvalidRuleError{Kind: rule.Kind, Interval: rule.Interval, Reason: "unknown kind"}
}

// addMonthsClamped avoids time.AddDate's day normalization (Jan 31 + 1
// month would roll into March).
func addMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	m := int(month) - 1 + months
	year += m / 12
	month = time.Month(m%12 + 1)
	if last := daysIn(year, month); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
