// Package scoring derives completion and score aggregates from an
// instance's item check-state. Pure functions; recomputed synchronously
// after every item change and never retroactively when a template changes.
package scoring

import (
	"math"

	"checkline/internal/domain"
)

type Result struct {
	TotalScore     int
	MaxTotalScore  int
	CompletionRate int
	Compliant      bool
}

// Compute folds the item set into score aggregates. Unchecked items
// contribute 0 to the total; every item contributes to the maximum.
// CompletionRate counts checked required items over required items and is
// 0 when there are none.
func Compute(items []domain.InstanceItem) Result {
	res := Result{Compliant: true}
	required := 0
	checkedRequired := 0
	for _, it := range items {
		res.MaxTotalScore += it.MaxScore * it.Weight
		if it.Required {
			required++
			if it.Checked {
				checkedRequired++
			}
		}
		if it.Checked && it.Score != nil {
			res.TotalScore += *it.Score * it.Weight
		}
		if !it.Compliant {
			res.Compliant = false
		}
	}
	if required > 0 {
		res.CompletionRate = int(math.Round(float64(checkedRequired) / float64(required) * 100))
	}
	return res
}

// MissingRequired returns the codes of required items not yet checked, in
// item order.
func MissingRequired(items []domain.InstanceItem) []string {
	var missing []string
	for _, it := range items {
		if it.Required && !it.Checked {
			missing = append(missing, it.Code)
		}
	}
	return missing
}
