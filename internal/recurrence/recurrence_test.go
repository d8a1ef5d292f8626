package recurrence

import (
	"errors"
	"testing"
	"time"

	"checkline/internal/domain"
)

func mustNext(t *testing.T, rule domain.RecurrenceRule, after time.Time) time.Time {
	t.Helper()
	next, err := NextOccurrence(rule, after)
	if err != nil {
		t.Fatalf("NextOccurrence(%v, %v): %v", rule, after, err)
	}
	return next
}

func TestFixedDays(t *testing.T) {
	ref := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	for _, n := range []int{1, 7, 30, 90} {
		got := mustNext(t, domain.RecurrenceRule{Kind: domain.RuleFixedDays, Interval: n}, ref)
		want := ref.AddDate(0, 0, n)
		if !got.Equal(want) {
			t.Errorf("fixed_days(%d): got %v want %v", n, got, want)
		}
	}
}

func TestWeekly(t *testing.T) {
	ref := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := mustNext(t, domain.RecurrenceRule{Kind: domain.RuleWeekly, Interval: 2}, ref)
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("weekly(2): got %v want %v", got, want)
	}
}

func TestMonthlyClampsToEndOfMonth(t *testing.T) {
	rule := domain.RecurrenceRule{Kind: domain.RuleMonthly, Interval: 1}
	jan31 := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	feb := mustNext(t, rule, jan31)
	if want := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC); !feb.Equal(want) {
		t.Fatalf("Jan 31 + 1 month: got %v want %v (leap year)", feb, want)
	}
	// Clamping is relative to the previous occurrence; the anchor day is
	// not remembered.
	mar := mustNext(t, rule, feb)
	if want := time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC); !mar.Equal(want) {
		t.Fatalf("Feb 29 + 1 month: got %v want %v", mar, want)
	}
}

func TestMonthlyNonLeapFebruary(t *testing.T) {
	rule := domain.RecurrenceRule{Kind: domain.RuleMonthly, Interval: 1}
	got := mustNext(t, rule, time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC))
	if want := time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Jan 31 2023 + 1 month: got %v want %v", got, want)
	}
}

func TestMonthlyCrossesYearBoundary(t *testing.T) {
	rule := domain.RecurrenceRule{Kind: domain.RuleMonthly, Interval: 3}
	got := mustNext(t, rule, time.Date(2024, 11, 15, 8, 30, 0, 0, time.UTC))
	if want := time.Date(2025, 2, 15, 8, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Nov 15 + 3 months: got %v want %v", got, want)
	}
}

func TestInvalidRules(t *testing.T) {
	cases := []domain.RecurrenceRule{
		{Kind: domain.RuleFixedDays, Interval: 0},
		{Kind: domain.RuleMonthly, Interval: -1},
		{Kind: domain.RuleKind("yearly"), Interval: 1},
		{Kind: "", Interval: 1},
	}
	for _, rule := range cases {
		if err := Validate(rule); err == nil {
			t.Errorf("Validate(%v): expected error", rule)
		} else {
			var ire InvalidRuleError
			if !errors.As(err, &ire) {
				t.Errorf("Validate(%v): expected InvalidRuleError, got %T", rule, err)
			}
		}
		if _, err := NextOccurrence(rule, time.Now()); err == nil {
			t.Errorf("NextOccurrence(%v): expected error", rule)
		}
	}
}

func TestDeterministic(t *testing.T) {
	rule := domain.RecurrenceRule{Kind: domain.RuleMonthly, Interval: 1}
	ref := time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)
	a := mustNext(t, rule, ref)
	b := mustNext(t, rule, ref)
	if !a.Equal(b) {
		t.Fatalf("expected deterministic result, got %v and %v", a, b)
	}
}
