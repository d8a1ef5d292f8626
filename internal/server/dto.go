package server

import (
	"time"

	"checkline/internal/engine"
)

// Request payloads

type TemplateItemRequest struct {
	Code     string `json:"code"`
	Label    string `json:"label,omitempty"`
	Required bool   `json:"required,omitempty"`
	Weight   int    `json:"weight,omitempty" minimum:"1"`
	MaxScore int    `json:"max_score,omitempty" minimum:"1"`
}

type CreateTemplateRequest struct {
	Name          string                `json:"name"`
	Mandatory     bool                  `json:"mandatory,omitempty"`
	FrequencyDays int                   `json:"frequency_days,omitempty"`
	Items         []TemplateItemRequest `json:"items"`
}

type RuleRequest struct {
	Kind     string `json:"kind" enum:"fixed_days,weekly,monthly"`
	Interval int    `json:"interval" minimum:"1"`
}

type CreateScheduleRequest struct {
	TemplateID   string      `json:"template_id"`
	Rule         RuleRequest `json:"rule"`
	LeadTimeDays int         `json:"lead_time_days,omitempty"`
	ReminderDays int         `json:"reminder_days,omitempty"`
	Assignee     string      `json:"assignee,omitempty"`
	Department   string      `json:"department,omitempty"`
	FirstDueAt   *string     `json:"first_due_at,omitempty" format:"date-time"`
}

type ReconfigureScheduleRequest struct {
	Rule         *RuleRequest `json:"rule,omitempty"`
	LeadTimeDays *int         `json:"lead_time_days,omitempty"`
	ReminderDays *int         `json:"reminder_days,omitempty"`
	Assignee     *string      `json:"assignee,omitempty"`
	Department   *string      `json:"department,omitempty"`
}

type GenerateRequest struct {
	// Now overrides the generation clock, mainly for backfills and tests.
	Now *string `json:"now,omitempty" format:"date-time"`
}

type CreateInstanceRequest struct {
	TemplateID string  `json:"template_id"`
	Assignee   string  `json:"assignee,omitempty"`
	Department string  `json:"department,omitempty"`
	DueAt      *string `json:"due_at,omitempty" format:"date-time"`
}

type CheckItemRequest struct {
	Checked         bool    `json:"checked"`
	Compliant       *bool   `json:"compliant,omitempty"`
	Score           *int    `json:"score,omitempty"`
	Findings        string  `json:"findings,omitempty"`
	CorrectiveDueAt *string `json:"corrective_due_at,omitempty" format:"date-time"`
}

type CancelInstanceRequest struct {
	Reason string `json:"reason"`
}

func itemSpecs(items []TemplateItemRequest) []engine.TemplateItemSpec {
	specs := make([]engine.TemplateItemSpec, 0, len(items))
	for _, it := range items {
		specs = append(specs, engine.TemplateItemSpec{
			Code:     it.Code,
			Label:    it.Label,
			Required: it.Required,
			Weight:   it.Weight,
			MaxScore: it.MaxScore,
		})
	}
	return specs
}

// parseOptionalTime maps a nil pointer to the zero time, which engine
// options treat as "use now".
func parseOptionalTime(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, *s)
}
