package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"checkline/internal/config"
	"checkline/internal/domain"
	"checkline/internal/events"
	"checkline/internal/repo"
	"checkline/internal/scoring"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// TemplateItemSpec describes one checklist line at template creation.
type TemplateItemSpec struct {
	Code     string
	Label    string
	Required bool
	Weight   int
	MaxScore int
}

// CreateTemplate stores a checklist template with its ordered items.
// Templates are read-only to the rest of the engine: instances snapshot
// their items at generation time.
func (e Engine) CreateTemplate(ctx context.Context, name string, mandatory bool, frequencyDays int, items []TemplateItemSpec, actorID string) (domain.Template, error) {
	if name == "" {
		return domain.Template{}, errors.New("name is required")
	}
	if len(items) == 0 {
		return domain.Template{}, errors.New("at least one item is required")
	}
	now := formatTime(e.now())
	t := domain.Template{
		ID:            uuid.New().String(),
		Name:          name,
		Mandatory:     mandatory,
		FrequencyDays: frequencyDays,
		CreatedAt:     now,
	}
	seen := map[string]bool{}
	for pos, spec := range items {
		if spec.Code == "" {
			return domain.Template{}, fmt.Errorf("item %d: code is required", pos)
		}
		if seen[spec.Code] {
			return domain.Template{}, fmt.Errorf("duplicate item code %s", spec.Code)
		}
		seen[spec.Code] = true
		weight := spec.Weight
		if weight == 0 {
			weight = 1
		}
		maxScore := spec.MaxScore
		if maxScore == 0 {
			maxScore = 1
		}
		if weight < 1 || maxScore < 1 {
			return domain.Template{}, fmt.Errorf("item %s: weight and max_score must be >= 1", spec.Code)
		}
		t.Items = append(t.Items, domain.TemplateItem{
			ID:         uuid.New().String(),
			TemplateID: t.ID,
			Code:       spec.Code,
			Label:      spec.Label,
			Position:   pos,
			Required:   spec.Required,
			Weight:     weight,
			MaxScore:   maxScore,
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Template{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
		return domain.Template{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "template.created", "template", t.ID, actorID, events.EventPayload{"name": t.Name, "items": len(t.Items)}); err != nil {
		return domain.Template{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// CreateAdhocInstance mints an unscheduled instance directly from a
// template snapshot.
func (e Engine) CreateAdhocInstance(ctx context.Context, templateID, assignee, department string, dueAt time.Time, actorID string) (domain.Instance, error) {
	t, err := e.Repo.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.Instance{}, err
	}
	now := e.now()
	inst := newInstanceFromTemplate(t, nil, now, dueAt, assignee, department)
	inst.CreatedAt = formatTime(now)
	inst.UpdatedAt = inst.CreatedAt

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Instance{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertInstance(ctx, tx, inst); err != nil {
		return domain.Instance{}, fmt.Errorf("insert instance: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "instance.created", "instance", inst.ID, actorID, events.EventPayload{"template_id": t.ID, "adhoc": true}); err != nil {
		return domain.Instance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Instance{}, err
	}
	return inst, nil
}

// newInstanceFromTemplate snapshots the template items into a fresh pending
// instance. Callers decide dueAt; the generator adds the configured grace
// period before calling.
func newInstanceFromTemplate(t domain.Template, scheduleID *string, scheduledAt, dueAt time.Time, assignee, department string) domain.Instance {
	inst := domain.Instance{
		ID:            uuid.New().String(),
		ScheduleID:    scheduleID,
		TemplateID:    t.ID,
		TemplateName:  t.Name,
		Assignee:      assignee,
		Department:    department,
		ScheduledDate: formatTime(scheduledAt),
		DueDate:       formatTime(dueAt),
		Status:        domain.StatusPending,
		Compliant:     true,
	}
	for _, it := range t.Items {
		inst.Items = append(inst.Items, domain.InstanceItem{
			ID:         uuid.New().String(),
			InstanceID: inst.ID,
			Code:       it.Code,
			Label:      it.Label,
			Position:   it.Position,
			Required:   it.Required,
			Weight:     it.Weight,
			MaxScore:   it.MaxScore,
			Compliant:  true,
		})
	}
	res := scoring.Compute(inst.Items)
	inst.MaxTotalScore = res.MaxTotalScore
	return inst
}

// GetInstance loads an instance with items, derived overdue classification,
// and current scoring fields.
func (e Engine) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	inst, err := e.Repo.GetInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	e.classifyOverdue(&inst)
	return inst, nil
}

// ListInstances returns instances with overdue populated; items are left
// out of listings.
func (e Engine) ListInstances(ctx context.Context, f repo.InstanceFilters) ([]domain.Instance, error) {
	items, err := e.Repo.ListInstances(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range items {
		e.classifyOverdue(&items[i])
	}
	return items, nil
}

func (e Engine) classifyOverdue(inst *domain.Instance) {
	if inst.Status.Terminal() {
		inst.Overdue = false
		return
	}
	due, err := parseTime(inst.DueDate)
	if err != nil {
		inst.Overdue = false
		return
	}
	inst.Overdue = due.Before(e.now())
}

// StartInstance moves pending -> in_progress.
func (e Engine) StartInstance(ctx context.Context, id, actorID string) (domain.Instance, error) {
	inst, err := e.Repo.GetInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	if inst.Status != domain.StatusPending {
		return inst, InvalidTransitionError{From: inst.Status, To: domain.StatusInProgress}
	}
	now := formatTime(e.now())
	inst.Status = domain.StatusInProgress
	inst.StartedAt = &now
	inst.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return inst, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateInstanceStatus(ctx, tx, inst); err != nil {
		return inst, err
	}
	if err := e.Events.Append(ctx, tx, "instance.started", "instance", inst.ID, actorID, events.EventPayload{}); err != nil {
		return inst, err
	}
	if err := tx.Commit(); err != nil {
		return inst, err
	}
	e.classifyOverdue(&inst)
	return inst, nil
}

// CheckItemOptions carries one item update. Score and the corrective due
// date are optional; findings free text.
type CheckItemOptions struct {
	InstanceID      string
	ItemID          string
	Checked         bool
	Compliant       *bool
	Score           *int
	Findings        string
	CorrectiveDueAt *time.Time
	ActorID         string
}

// CheckItem updates a single item of an in_progress instance and recomputes
// the instance's derived scoring fields in the same transaction. Updates
// are per-item, so concurrent edits to different items of one instance
// never overwrite each other; concurrent edits to the same item are
// last-write-wins.
func (e Engine) CheckItem(ctx context.Context, opts CheckItemOptions) (domain.Instance, error) {
	inst, err := e.Repo.GetInstance(ctx, opts.InstanceID)
	if err != nil {
		return inst, err
	}
	if inst.Status != domain.StatusInProgress {
		// item checks are only valid while the checklist is being performed
		return inst, InvalidTransitionError{From: inst.Status, To: domain.StatusInProgress}
	}
	var target *domain.InstanceItem
	for i := range inst.Items {
		if inst.Items[i].ID == opts.ItemID || inst.Items[i].Code == opts.ItemID {
			target = &inst.Items[i]
			break
		}
	}
	if target == nil {
		return inst, repo.ErrNotFound
	}
	if opts.Score != nil {
		if *opts.Score < 0 || *opts.Score > target.MaxScore {
			return inst, fmt.Errorf("score %d out of range [0,%d] for item %s", *opts.Score, target.MaxScore, target.Code)
		}
	}
	now := formatTime(e.now())
	target.Checked = opts.Checked
	target.Compliant = true
	if opts.Compliant != nil {
		target.Compliant = *opts.Compliant
	}
	target.Score = opts.Score
	target.Findings = opts.Findings
	if opts.CorrectiveDueAt != nil {
		s := formatTime(*opts.CorrectiveDueAt)
		target.CorrectiveDueAt = &s
	} else {
		target.CorrectiveDueAt = nil
	}
	if opts.Checked {
		target.CheckedAt = &now
		actor := opts.ActorID
		target.CheckedBy = &actor
	} else {
		target.CheckedAt = nil
		target.CheckedBy = nil
	}

	res := scoring.Compute(inst.Items)
	inst.TotalScore = res.TotalScore
	inst.MaxTotalScore = res.MaxTotalScore
	inst.CompletionRate = res.CompletionRate
	inst.Compliant = res.Compliant
	inst.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return inst, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateInstanceItem(ctx, tx, *target); err != nil {
		return inst, err
	}
	if err := e.Repo.UpdateInstanceScores(ctx, tx, inst.ID, res.TotalScore, res.MaxTotalScore, res.CompletionRate, res.Compliant, now); err != nil {
		return inst, err
	}
	if err := e.Events.Append(ctx, tx, "instance.item.checked", "instance", inst.ID, opts.ActorID, events.EventPayload{
		"item_code": target.Code,
		"checked":   target.Checked,
		"compliant": target.Compliant,
	}); err != nil {
		return inst, err
	}
	if err := tx.Commit(); err != nil {
		return inst, err
	}
	e.classifyOverdue(&inst)
	return inst, nil
}

// CompleteInstance closes an instance once every required item is checked.
// Allowed from pending or in_progress: an instance with no required items
// is completable without ever being started.
func (e Engine) CompleteInstance(ctx context.Context, id, actorID string) (domain.Instance, error) {
	inst, err := e.Repo.GetInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	if inst.Status.Terminal() {
		return inst, InvalidTransitionError{From: inst.Status, To: domain.StatusCompleted}
	}
	if missing := scoring.MissingRequired(inst.Items); len(missing) > 0 {
		return inst, IncompleteRequiredItemsError{Missing: missing}
	}
	now := formatTime(e.now())
	inst.Status = domain.StatusCompleted
	inst.CompletedAt = &now
	inst.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return inst, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateInstanceStatus(ctx, tx, inst); err != nil {
		return inst, err
	}
	if err := e.Events.Append(ctx, tx, "instance.completed", "instance", inst.ID, actorID, events.EventPayload{
		"completion_rate": inst.CompletionRate,
		"total_score":     inst.TotalScore,
		"compliant":       inst.Compliant,
	}); err != nil {
		return inst, err
	}
	if err := tx.Commit(); err != nil {
		return inst, err
	}
	// completion never feeds back into generation: the next occurrence was
	// scheduled when this one was generated
	inst.Overdue = false
	return inst, nil
}

// CancelInstance is terminal from pending or in_progress and requires a
// reason.
func (e Engine) CancelInstance(ctx context.Context, id, reason, actorID string) (domain.Instance, error) {
	if reason == "" {
		return domain.Instance{}, errors.New("cancel reason is required")
	}
	inst, err := e.Repo.GetInstance(ctx, id)
	if err != nil {
		return inst, err
	}
	if inst.Status.Terminal() {
		return inst, InvalidTransitionError{From: inst.Status, To: domain.StatusCancelled}
	}
	now := formatTime(e.now())
	inst.Status = domain.StatusCancelled
	inst.CancelReason = &reason
	inst.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return inst, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateInstanceStatus(ctx, tx, inst); err != nil {
		return inst, err
	}
	if err := e.Events.Append(ctx, tx, "instance.cancelled", "instance", inst.ID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return inst, err
	}
	if err := tx.Commit(); err != nil {
		return inst, err
	}
	inst.Overdue = false
	return inst, nil
}

// DueReminders returns open instances inside their schedule's reminder
// window. Delivery belongs to a collaborator; this is only the query.
func (e Engine) DueReminders(ctx context.Context, now time.Time) ([]domain.Instance, error) {
	items, err := e.Repo.DueReminders(ctx, formatTime(now))
	if err != nil {
		return nil, err
	}
	for i := range items {
		e.classifyOverdue(&items[i])
	}
	return items, nil
}

// EngineStatus is the health/status surface: degraded schedules show up
// here instead of failing generation.
type EngineStatus struct {
	ActiveSchedules   int                           `json:"active_schedules"`
	DegradedSchedules int                           `json:"degraded_schedules"`
	OverdueInstances  int                           `json:"overdue_instances"`
	InstanceCounts    map[domain.InstanceStatus]int `json:"instance_counts"`
}

func (e Engine) Status(ctx context.Context) (EngineStatus, error) {
	var st EngineStatus
	active, degraded, err := e.Repo.CountSchedules(ctx)
	if err != nil {
		return st, err
	}
	st.ActiveSchedules = active
	st.DegradedSchedules = degraded
	counts, err := e.Repo.CountInstancesByStatus(ctx)
	if err != nil {
		return st, err
	}
	st.InstanceCounts = counts
	overdue, err := e.Repo.CountOverdue(ctx, formatTime(e.now()))
	if err != nil {
		return st, err
	}
	st.OverdueInstances = overdue
	return st, nil
}
