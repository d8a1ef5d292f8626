package engine

import (
	"context"
	"errors"
	"time"

	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/recurrence"
	"checkline/internal/repo"
)

// GenerateDue materializes instances for every active schedule whose lead
// window covers now, and advances each schedule's bookkeeping. The engine
// does not own a clock: an external tick (cron, CLI, test) supplies now.
//
// Per schedule, the claim + instance insert + advance happen in one
// transaction keyed by a compare-and-swap on next_due_at, so concurrent
// generator runs produce exactly one instance per due period and a crash
// can never advance a schedule without its instance (or vice versa).
//
// A schedule that lapsed several periods catches up within the run, one
// instance per period, so next_due_at always lands strictly past
// last_generated_at.
func (e Engine) GenerateDue(ctx context.Context, now time.Time, actorID string) ([]domain.Instance, error) {
	schedules, err := e.Repo.ActiveSchedules(ctx)
	if err != nil {
		return nil, err
	}
	var generated []domain.Instance
	for _, s := range schedules {
		for {
			inst, nextDueAt, err := e.generateOne(ctx, s, now, actorID)
			if err != nil {
				// a single bad schedule never blocks the batch, but the
				// skip must not be silent: flag it so status and the
				// journal surface it. A lost claim race is not a defect.
				if !errors.Is(err, ErrConcurrentGeneration) {
					e.markDegraded(ctx, s, err, actorID)
				}
				break
			}
			if inst == nil {
				break
			}
			generated = append(generated, *inst)
			s.NextDueAt = nextDueAt
			s.Degraded = false
		}
	}
	return generated, nil
}

// generateOne claims at most one period. On success it returns the instance
// and the schedule's new next_due_at so the caller can keep catching up.
func (e Engine) generateOne(ctx context.Context, s domain.Schedule, now time.Time, actorID string) (*domain.Instance, string, error) {
	nextDue, err := parseTime(s.NextDueAt)
	if err != nil {
		return nil, "", err
	}
	if nextDue.AddDate(0, 0, -s.LeadTimeDays).After(now) {
		return nil, "", nil // not in the lead window yet
	}
	t, err := e.Repo.GetTemplate(ctx, s.TemplateID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, "", TemplateMissingError{TemplateID: s.TemplateID, ScheduleID: s.ID}
		}
		return nil, "", err
	}

	advanced, err := recurrence.NextOccurrence(s.Rule, nextDue)
	if err != nil {
		// rules are validated at schedule creation; reaching this means the
		// stored rule was corrupted
		return nil, "", err
	}
	grace := 0
	if e.Config != nil {
		grace = e.Config.Generation.GraceDays
	}
	inst := newInstanceFromTemplate(t, &s.ID, nextDue, nextDue.AddDate(0, 0, grace), s.Assignee, s.Department)
	nowStr := formatTime(now)
	inst.CreatedAt = nowStr
	inst.UpdatedAt = nowStr
	advancedStr := formatTime(advanced)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", err
	}
	defer tx.Rollback()

	claimed, err := e.Repo.ClaimAdvance(ctx, tx, s.ID, s.NextDueAt, advancedStr, nowStr)
	if err != nil {
		return nil, "", err
	}
	if !claimed {
		return nil, "", ErrConcurrentGeneration
	}
	// backstop behind the unique (schedule_id, scheduled_date) index: if a
	// prior run crashed after inserting the instance but the claim somehow
	// replayed, do not insert twice
	exists, err := e.Repo.InstanceExists(ctx, tx, s.ID, inst.ScheduledDate)
	if err != nil {
		return nil, "", err
	}
	if exists {
		return nil, "", tx.Commit()
	}
	if err := e.Repo.InsertInstance(ctx, tx, inst); err != nil {
		return nil, "", err
	}
	if err := e.Events.Append(ctx, tx, "instance.generated", "instance", inst.ID, actorID, events.EventPayload{
		"schedule_id":    s.ID,
		"template_id":    t.ID,
		"scheduled_date": inst.ScheduledDate,
		"due_date":       inst.DueDate,
	}); err != nil {
		return nil, "", err
	}
	if err := e.Events.Append(ctx, tx, "schedule.advanced", "schedule", s.ID, actorID, events.EventPayload{
		"next_due_at": advancedStr,
	}); err != nil {
		return nil, "", err
	}
	if err := tx.Commit(); err != nil {
		return nil, "", err
	}
	return &inst, advancedStr, nil
}

// markDegraded flags and journals a schedule whose generation was skipped
// (missing template, corrupt stored rule or timestamp). Best effort:
// generation carries on either way.
func (e Engine) markDegraded(ctx context.Context, s domain.Schedule, cause error, actorID string) {
	if s.Degraded {
		return
	}
	if err := e.Repo.SetDegraded(ctx, s.ID, true, formatTime(e.now())); err != nil {
		return
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, "schedule.degraded", "schedule", s.ID, actorID, events.EventPayload{
		"template_id": s.TemplateID,
		"reason":      cause.Error(),
	}); err != nil {
		return
	}
	_ = tx.Commit()
}
