package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/recurrence"
	"checkline/internal/repo"
)

// ScheduleCreateOptions are parameters for binding a recurrence rule to a
// template.
type ScheduleCreateOptions struct {
	TemplateID   string
	Rule         domain.RecurrenceRule
	LeadTimeDays int
	ReminderDays int
	Assignee     string
	Department   string
	// FirstDueAt seeds next_due_at; zero means "due now".
	FirstDueAt time.Time
	ActorID    string
}

// CreateSchedule validates the rule up front so generation never sees a bad
// one.
func (e Engine) CreateSchedule(ctx context.Context, opts ScheduleCreateOptions) (domain.Schedule, error) {
	if opts.TemplateID == "" {
		return domain.Schedule{}, errors.New("template is required")
	}
	if err := recurrence.Validate(opts.Rule); err != nil {
		return domain.Schedule{}, err
	}
	if opts.LeadTimeDays < 0 || opts.ReminderDays < 0 {
		return domain.Schedule{}, errors.New("lead_time_days and reminder_days must be >= 0")
	}
	if _, err := e.Repo.GetTemplate(ctx, opts.TemplateID); err != nil {
		return domain.Schedule{}, err
	}
	now := e.now()
	firstDue := opts.FirstDueAt
	if firstDue.IsZero() {
		firstDue = now
	}
	leadDays := opts.LeadTimeDays
	reminderDays := opts.ReminderDays
	if e.Config != nil {
		if leadDays == 0 {
			leadDays = e.Config.Generation.DefaultLeadTimeDays
		}
		if reminderDays == 0 {
			reminderDays = e.Config.Generation.DefaultReminderDays
		}
	}
	s := domain.Schedule{
		ID:           uuid.New().String(),
		TemplateID:   opts.TemplateID,
		Rule:         opts.Rule,
		LeadTimeDays: leadDays,
		ReminderDays: reminderDays,
		Assignee:     opts.Assignee,
		Department:   opts.Department,
		Active:       true,
		NextDueAt:    formatTime(firstDue),
		CreatedAt:    formatTime(now),
		UpdatedAt:    formatTime(now),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Schedule{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSchedule(ctx, tx, s); err != nil {
		return domain.Schedule{}, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.created", "schedule", s.ID, opts.ActorID, events.EventPayload{
		"template_id": s.TemplateID,
		"rule":        string(s.Rule.Kind),
		"interval":    s.Rule.Interval,
		"next_due_at": s.NextDueAt,
	}); err != nil {
		return domain.Schedule{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Schedule{}, err
	}
	return s, nil
}

// ScheduleReconfigureOptions updates the configuration half of a schedule.
// Nil fields keep their current value.
type ScheduleReconfigureOptions struct {
	ID           string
	Rule         *domain.RecurrenceRule
	LeadTimeDays *int
	ReminderDays *int
	Assignee     *string
	Department   *string
	ActorID      string
}

// ReconfigureSchedule revalidates the rule; bookkeeping fields
// (last_generated_at, next_due_at) stay untouched, so a new rule takes
// effect from the next generation onward.
func (e Engine) ReconfigureSchedule(ctx context.Context, opts ScheduleReconfigureOptions) (domain.Schedule, error) {
	s, err := e.Repo.GetSchedule(ctx, opts.ID)
	if err != nil {
		return s, err
	}
	if opts.Rule != nil {
		if err := recurrence.Validate(*opts.Rule); err != nil {
			return s, err
		}
		s.Rule = *opts.Rule
	}
	if opts.LeadTimeDays != nil {
		if *opts.LeadTimeDays < 0 {
			return s, errors.New("lead_time_days must be >= 0")
		}
		s.LeadTimeDays = *opts.LeadTimeDays
	}
	if opts.ReminderDays != nil {
		if *opts.ReminderDays < 0 {
			return s, errors.New("reminder_days must be >= 0")
		}
		s.ReminderDays = *opts.ReminderDays
	}
	if opts.Assignee != nil {
		s.Assignee = *opts.Assignee
	}
	if opts.Department != nil {
		s.Department = *opts.Department
	}
	s.UpdatedAt = formatTime(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduleRule(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.reconfigured", "schedule", s.ID, opts.ActorID, events.EventPayload{
		"rule":     string(s.Rule.Kind),
		"interval": s.Rule.Interval,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// DeactivateSchedule stops generation for a schedule. Schedules referenced
// by instances are never deleted; this is the only way to retire one.
func (e Engine) DeactivateSchedule(ctx context.Context, id, actorID string) (domain.Schedule, error) {
	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil {
		return s, err
	}
	if !s.Active {
		return s, nil
	}
	s.Active = false
	s.UpdatedAt = formatTime(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetScheduleActive(ctx, tx, s.ID, false, s.UpdatedAt); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.deactivated", "schedule", s.ID, actorID, events.EventPayload{}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// ActivateSchedule re-enables a deactivated schedule. If its next due time
// is far in the past the generator will catch up one period per run.
func (e Engine) ActivateSchedule(ctx context.Context, id, actorID string) (domain.Schedule, error) {
	s, err := e.Repo.GetSchedule(ctx, id)
	if err != nil {
		return s, err
	}
	if s.Active {
		return s, nil
	}
	s.Active = true
	s.UpdatedAt = formatTime(e.now())

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetScheduleActive(ctx, tx, s.ID, true, s.UpdatedAt); err != nil {
		return s, err
	}
	if err := e.Events.Append(ctx, tx, "schedule.activated", "schedule", s.ID, actorID, events.EventPayload{}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// GetSchedule is a read-through for collaborators.
func (e Engine) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	return e.Repo.GetSchedule(ctx, id)
}

// ListSchedules is a read-through with filters.
func (e Engine) ListSchedules(ctx context.Context, f repo.ScheduleFilters) ([]domain.Schedule, error) {
	return e.Repo.ListSchedules(ctx, f)
}
