package domain

// RuleKind is the closed set of recurrence rule kinds.
type RuleKind string

const (
	RuleFixedDays RuleKind = "fixed_days"
	RuleWeekly    RuleKind = "weekly"
	RuleMonthly   RuleKind = "monthly"
)

// InstanceStatus is the stored checklist instance status. Overdue is a
// derived classification and is never stored.
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "pending"
	StatusInProgress InstanceStatus = "in_progress"
	StatusCompleted  InstanceStatus = "completed"
	StatusCancelled  InstanceStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s InstanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type RecurrenceRule struct {
	Kind     RuleKind `json:"kind" enum:"fixed_days,weekly,monthly"`
	Interval int      `json:"interval" minimum:"1"`
}

type Template struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Mandatory     bool           `json:"mandatory"`
	FrequencyDays int            `json:"frequency_days,omitempty"`
	Items         []TemplateItem `json:"items"`
	CreatedAt     string         `json:"created_at" format:"date-time"`
}

type TemplateItem struct {
	ID         string `json:"id"`
	TemplateID string `json:"template_id"`
	Code       string `json:"code"`
	Label      string `json:"label,omitempty"`
	Position   int    `json:"position"`
	Required   bool   `json:"required"`
	Weight     int    `json:"weight"`
	MaxScore   int    `json:"max_score"`
}

type Schedule struct {
	ID              string         `json:"id"`
	TemplateID      string         `json:"template_id"`
	Rule            RecurrenceRule `json:"rule"`
	LeadTimeDays    int            `json:"lead_time_days"`
	ReminderDays    int            `json:"reminder_days"`
	Assignee        string         `json:"assignee,omitempty"`
	Department      string         `json:"department,omitempty"`
	Active          bool           `json:"active"`
	Degraded        bool           `json:"degraded"`
	LastGeneratedAt *string        `json:"last_generated_at,omitempty" format:"date-time"`
	NextDueAt       string         `json:"next_due_at" format:"date-time"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	UpdatedAt       string         `json:"updated_at" format:"date-time"`
}

// Instance is one concrete occurrence of a checklist. Its item set is a
// snapshot of the template items at generation time; later template edits
// never touch it.
type Instance struct {
	ID             string         `json:"id"`
	ScheduleID     *string        `json:"schedule_id,omitempty"`
	TemplateID     string         `json:"template_id"`
	TemplateName   string         `json:"template_name"`
	Assignee       string         `json:"assignee,omitempty"`
	Department     string         `json:"department,omitempty"`
	ScheduledDate  string         `json:"scheduled_date" format:"date-time"`
	DueDate        string         `json:"due_date" format:"date-time"`
	Status         InstanceStatus `json:"status" enum:"pending,in_progress,completed,cancelled"`
	StartedAt      *string        `json:"started_at,omitempty" format:"date-time"`
	CompletedAt    *string        `json:"completed_at,omitempty" format:"date-time"`
	CancelReason   *string        `json:"cancel_reason,omitempty"`
	TotalScore     int            `json:"total_score"`
	MaxTotalScore  int            `json:"max_total_score"`
	CompletionRate int            `json:"completion_rate"`
	Compliant      bool           `json:"compliant"`
	Overdue        bool           `json:"overdue"`
	Items          []InstanceItem `json:"items,omitempty"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
	UpdatedAt      string         `json:"updated_at" format:"date-time"`
}

type InstanceItem struct {
	ID              string  `json:"id"`
	InstanceID      string  `json:"instance_id"`
	Code            string  `json:"code"`
	Label           string  `json:"label,omitempty"`
	Position        int     `json:"position"`
	Required        bool    `json:"required"`
	Weight          int     `json:"weight"`
	MaxScore        int     `json:"max_score"`
	Checked         bool    `json:"checked"`
	Compliant       bool    `json:"compliant"`
	Score           *int    `json:"score,omitempty"`
	Findings        string  `json:"findings,omitempty"`
	CorrectiveDueAt *string `json:"corrective_due_at,omitempty" format:"date-time"`
	CheckedAt       *string `json:"checked_at,omitempty" format:"date-time"`
	CheckedBy       *string `json:"checked_by,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
