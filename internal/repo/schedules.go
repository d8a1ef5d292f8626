package repo

import (
	"context"
	"database/sql"
	"strings"

	"checkline/internal/domain"
)

const scheduleColumns = `id,template_id,rule_kind,rule_interval,lead_time_days,reminder_days,assignee,department,active,degraded,last_generated_at,next_due_at,created_at,updated_at`

func scanSchedule(scan func(dest ...any) error) (domain.Schedule, error) {
	var s domain.Schedule
	var assignee, department, lastGen sql.NullString
	err := scan(&s.ID, &s.TemplateID, &s.Rule.Kind, &s.Rule.Interval, &s.LeadTimeDays, &s.ReminderDays,
		&assignee, &department, &s.Active, &s.Degraded, &lastGen, &s.NextDueAt, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if assignee.Valid {
		s.Assignee = assignee.String
	}
	if department.Valid {
		s.Department = department.String
	}
	if lastGen.Valid {
		s.LastGeneratedAt = &lastGen.String
	}
	return s, nil
}

func (r Repo) InsertSchedule(ctx context.Context, tx *sql.Tx, s domain.Schedule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO schedules(`+scheduleColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TemplateID, s.Rule.Kind, s.Rule.Interval, s.LeadTimeDays, s.ReminderDays,
		nullable(s.Assignee), nullable(s.Department), boolToInt(s.Active), boolToInt(s.Degraded),
		nullableStringPtr(s.LastGeneratedAt), s.NextDueAt, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id=?`, id)
	return scanSchedule(row.Scan)
}

type ScheduleFilters struct {
	TemplateID string
	Active     *bool
	Degraded   *bool
}

func (r Repo) ListSchedules(ctx context.Context, f ScheduleFilters) ([]domain.Schedule, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.Active != nil {
		clauses = append(clauses, "active=?")
		args = append(args, boolToInt(*f.Active))
	}
	if f.Degraded != nil {
		clauses = append(clauses, "degraded=?")
		args = append(args, boolToInt(*f.Degraded))
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT `+scheduleColumns+` FROM schedules `+where+` ORDER BY next_due_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ActiveSchedules returns every active schedule; due-window filtering
// happens in the generator, which knows each schedule's lead time.
func (r Repo) ActiveSchedules(ctx context.Context) ([]domain.Schedule, error) {
	active := true
	return r.ListSchedules(ctx, ScheduleFilters{Active: &active})
}

// ClaimAdvance is the generation claim: a compare-and-swap on next_due_at.
// Exactly one concurrent caller observes RowsAffected==1 for a given due
// period; everyone else lost the race.
func (r Repo) ClaimAdvance(ctx context.Context, tx *sql.Tx, id, prevNextDueAt, newNextDueAt, generatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE schedules SET last_generated_at=?, next_due_at=?, degraded=0, updated_at=? WHERE id=? AND next_due_at=? AND active=1`,
		generatedAt, newNextDueAt, generatedAt, id, prevNextDueAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetDegraded flags a schedule whose template could not be loaded.
func (r Repo) SetDegraded(ctx context.Context, id string, degraded bool, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE schedules SET degraded=?, updated_at=? WHERE id=?`,
		boolToInt(degraded), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetScheduleActive(ctx context.Context, tx *sql.Tx, id string, active bool, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE schedules SET active=?, updated_at=? WHERE id=?`,
		boolToInt(active), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateScheduleRule rewrites the configuration half of a schedule. The
// bookkeeping fields stay with the generator.
func (r Repo) UpdateScheduleRule(ctx context.Context, tx *sql.Tx, s domain.Schedule) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE schedules SET rule_kind=?, rule_interval=?, lead_time_days=?, reminder_days=?, assignee=?, department=?, updated_at=? WHERE id=?`,
		s.Rule.Kind, s.Rule.Interval, s.LeadTimeDays, s.ReminderDays,
		nullable(s.Assignee), nullable(s.Department), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountSchedules(ctx context.Context) (active, degraded int, err error) {
	err = r.DB.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(active),0), COALESCE(SUM(degraded),0) FROM schedules`).Scan(&active, &degraded)
	return active, degraded, err
}
