package scoring

import (
	"testing"

	"checkline/internal/domain"
)

func item(code string, required, checked bool, weight, maxScore int, score *int) domain.InstanceItem {
	return domain.InstanceItem{
		Code:      code,
		Required:  required,
		Checked:   checked,
		Compliant: true,
		Weight:    weight,
		MaxScore:  maxScore,
		Score:     score,
	}
}

func intPtr(v int) *int { return &v }

func TestComputeEmpty(t *testing.T) {
	res := Compute(nil)
	if res.CompletionRate != 0 || res.TotalScore != 0 || res.MaxTotalScore != 0 {
		t.Fatalf("empty item set: %+v", res)
	}
	if !res.Compliant {
		t.Fatalf("empty item set should be compliant")
	}
}

func TestComputeWeightedScores(t *testing.T) {
	items := []domain.InstanceItem{
		item("a", true, true, 2, 5, intPtr(4)),  // 8 of 10
		item("b", true, false, 1, 5, nil),       // 0 of 5
		item("c", false, true, 3, 2, intPtr(2)), // 6 of 6
	}
	res := Compute(items)
	if res.TotalScore != 14 {
		t.Errorf("total: got %d want 14", res.TotalScore)
	}
	if res.MaxTotalScore != 21 {
		t.Errorf("max: got %d want 21", res.MaxTotalScore)
	}
	if res.TotalScore > res.MaxTotalScore {
		t.Errorf("total exceeds max")
	}
	// one of two required items checked
	if res.CompletionRate != 50 {
		t.Errorf("rate: got %d want 50", res.CompletionRate)
	}
}

func TestCompletionRateRounding(t *testing.T) {
	items := []domain.InstanceItem{
		item("a", true, true, 1, 1, nil),
		item("b", true, true, 1, 1, nil),
		item("c", true, false, 1, 1, nil),
	}
	res := Compute(items)
	// 2/3 rounds to 67
	if res.CompletionRate != 67 {
		t.Errorf("rate: got %d want 67", res.CompletionRate)
	}
}

func TestCompletionRateBounds(t *testing.T) {
	items := []domain.InstanceItem{
		item("req", true, true, 1, 1, nil),
		item("opt1", false, true, 1, 1, nil),
		item("opt2", false, true, 1, 1, nil),
	}
	res := Compute(items)
	// checked optional items must not push the rate past 100
	if res.CompletionRate != 100 {
		t.Errorf("rate: got %d want 100", res.CompletionRate)
	}
}

func TestZeroRequiredItems(t *testing.T) {
	items := []domain.InstanceItem{
		item("opt", false, false, 1, 1, nil),
	}
	if res := Compute(items); res.CompletionRate != 0 {
		t.Errorf("rate with no required items: got %d want 0", res.CompletionRate)
	}
	if missing := MissingRequired(items); missing != nil {
		t.Errorf("expected no missing required items, got %v", missing)
	}
}

func TestNonCompliantItem(t *testing.T) {
	items := []domain.InstanceItem{
		item("a", true, true, 1, 1, nil),
		{Code: "b", Required: true, Checked: true, Compliant: false, Weight: 1, MaxScore: 1},
	}
	if res := Compute(items); res.Compliant {
		t.Fatalf("one non-compliant item should fail the whole instance")
	}
}

func TestMissingRequiredOrder(t *testing.T) {
	items := []domain.InstanceItem{
		item("first", true, false, 1, 1, nil),
		item("second", true, true, 1, 1, nil),
		item("third", true, false, 1, 1, nil),
	}
	missing := MissingRequired(items)
	if len(missing) != 2 || missing[0] != "first" || missing[1] != "third" {
		t.Fatalf("missing: got %v", missing)
	}
}
