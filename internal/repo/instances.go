package repo

import (
	"context"
	"database/sql"
	"strings"

	"checkline/internal/domain"
)

const instanceColumns = `id,schedule_id,template_id,template_name,assignee,department,scheduled_date,due_date,status,started_at,completed_at,cancel_reason,total_score,max_total_score,completion_rate,compliant,created_at,updated_at`

func scanInstance(scan func(dest ...any) error) (domain.Instance, error) {
	var i domain.Instance
	var scheduleID, assignee, department, startedAt, completedAt, cancelReason sql.NullString
	err := scan(&i.ID, &scheduleID, &i.TemplateID, &i.TemplateName, &assignee, &department,
		&i.ScheduledDate, &i.DueDate, &i.Status, &startedAt, &completedAt, &cancelReason,
		&i.TotalScore, &i.MaxTotalScore, &i.CompletionRate, &i.Compliant, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	if scheduleID.Valid {
		i.ScheduleID = &scheduleID.String
	}
	if assignee.Valid {
		i.Assignee = assignee.String
	}
	if department.Valid {
		i.Department = department.String
	}
	if startedAt.Valid {
		i.StartedAt = &startedAt.String
	}
	if completedAt.Valid {
		i.CompletedAt = &completedAt.String
	}
	if cancelReason.Valid {
		i.CancelReason = &cancelReason.String
	}
	return i, nil
}

// InsertInstance writes an instance together with its snapshotted items.
func (r Repo) InsertInstance(ctx context.Context, tx *sql.Tx, i domain.Instance) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO instances(`+instanceColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, nullableStringPtr(i.ScheduleID), i.TemplateID, i.TemplateName,
		nullable(i.Assignee), nullable(i.Department), i.ScheduledDate, i.DueDate, i.Status,
		nullableStringPtr(i.StartedAt), nullableStringPtr(i.CompletedAt), nullableStringPtr(i.CancelReason),
		i.TotalScore, i.MaxTotalScore, i.CompletionRate, boolToInt(i.Compliant), i.CreatedAt, i.UpdatedAt); err != nil {
		return err
	}
	for _, it := range i.Items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO instance_items(id,instance_id,code,label,position,required,weight,max_score,checked,compliant,score,findings,corrective_due_at,checked_at,checked_by)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			it.ID, i.ID, it.Code, nullable(it.Label), it.Position, boolToInt(it.Required), it.Weight, it.MaxScore,
			boolToInt(it.Checked), boolToInt(it.Compliant), nullableIntPtr(it.Score), nullable(it.Findings),
			nullableStringPtr(it.CorrectiveDueAt), nullableStringPtr(it.CheckedAt), nullableStringPtr(it.CheckedBy)); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetInstance(ctx context.Context, id string) (domain.Instance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id=?`, id)
	i, err := scanInstance(row.Scan)
	if err != nil {
		return i, err
	}
	items, err := r.ListInstanceItems(ctx, i.ID)
	if err != nil {
		return i, err
	}
	i.Items = items
	return i, nil
}

func (r Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.Instance, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) ListInstanceItems(ctx context.Context, instanceID string) ([]domain.InstanceItem, error) {
	return r.listInstanceItems(ctx, r.DB.QueryContext, instanceID)
}

func (r Repo) ListInstanceItemsTx(ctx context.Context, tx *sql.Tx, instanceID string) ([]domain.InstanceItem, error) {
	return r.listInstanceItems(ctx, tx.QueryContext, instanceID)
}

type queryFunc func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) listInstanceItems(ctx context.Context, query queryFunc, instanceID string) ([]domain.InstanceItem, error) {
	rows, err := query(ctx, `SELECT id,instance_id,code,label,position,required,weight,max_score,checked,compliant,score,findings,corrective_due_at,checked_at,checked_by
FROM instance_items WHERE instance_id=? ORDER BY position ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.InstanceItem
	for rows.Next() {
		var it domain.InstanceItem
		var label, findings, correctiveDue, checkedAt, checkedBy sql.NullString
		var score sql.NullInt64
		if err := rows.Scan(&it.ID, &it.InstanceID, &it.Code, &label, &it.Position, &it.Required, &it.Weight, &it.MaxScore,
			&it.Checked, &it.Compliant, &score, &findings, &correctiveDue, &checkedAt, &checkedBy); err != nil {
			return nil, err
		}
		if label.Valid {
			it.Label = label.String
		}
		if findings.Valid {
			it.Findings = findings.String
		}
		if correctiveDue.Valid {
			it.CorrectiveDueAt = &correctiveDue.String
		}
		if checkedAt.Valid {
			it.CheckedAt = &checkedAt.String
		}
		if checkedBy.Valid {
			it.CheckedBy = &checkedBy.String
		}
		if score.Valid {
			v := int(score.Int64)
			it.Score = &v
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type InstanceFilters struct {
	ScheduleID string
	TemplateID string
	Status     domain.InstanceStatus
	Assignee   string
	Department string
	// DueBefore keeps instances with due_date strictly earlier than the
	// given RFC3339 instant.
	DueBefore string
	// Open keeps pending and in_progress instances only.
	Open  bool
	Limit int
}

func (r Repo) ListInstances(ctx context.Context, f InstanceFilters) ([]domain.Instance, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ScheduleID != "" {
		clauses = append(clauses, "schedule_id=?")
		args = append(args, f.ScheduleID)
	}
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "assignee=?")
		args = append(args, f.Assignee)
	}
	if f.Department != "" {
		clauses = append(clauses, "department=?")
		args = append(args, f.Department)
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date<?")
		args = append(args, f.DueBefore)
	}
	if f.Open {
		clauses = append(clauses, "status IN ('pending','in_progress')")
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT ` + instanceColumns + ` FROM instances ` + where + ` ORDER BY due_date ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Instance
	for rows.Next() {
		i, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// InstanceExists reports whether an instance already covers the schedule's
// due period; the idempotency backstop behind the unique index.
func (r Repo) InstanceExists(ctx context.Context, tx *sql.Tx, scheduleID, scheduledDate string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE schedule_id=? AND scheduled_date=? LIMIT 1`, scheduleID, scheduledDate)
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateInstanceStatus rewrites the lifecycle fields only.
func (r Repo) UpdateInstanceStatus(ctx context.Context, tx *sql.Tx, i domain.Instance) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE instances SET status=?, started_at=?, completed_at=?, cancel_reason=?, updated_at=? WHERE id=?`,
		i.Status, nullableStringPtr(i.StartedAt), nullableStringPtr(i.CompletedAt), nullableStringPtr(i.CancelReason), i.UpdatedAt, i.ID)
	return err
}

// UpdateInstanceItem applies a field-level update to one item so users
// editing different items of the same instance never overwrite each other.
func (r Repo) UpdateInstanceItem(ctx context.Context, tx *sql.Tx, it domain.InstanceItem) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE instance_items SET checked=?, compliant=?, score=?, findings=?, corrective_due_at=?, checked_at=?, checked_by=? WHERE id=? AND instance_id=?`,
		boolToInt(it.Checked), boolToInt(it.Compliant), nullableIntPtr(it.Score), nullable(it.Findings),
		nullableStringPtr(it.CorrectiveDueAt), nullableStringPtr(it.CheckedAt), nullableStringPtr(it.CheckedBy), it.ID, it.InstanceID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateInstanceScores rewrites the derived scoring aggregates.
func (r Repo) UpdateInstanceScores(ctx context.Context, tx *sql.Tx, id string, totalScore, maxTotalScore, completionRate int, compliant bool, updatedAt string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE instances SET total_score=?, max_total_score=?, completion_rate=?, compliant=?, updated_at=? WHERE id=?`,
		totalScore, maxTotalScore, completionRate, boolToInt(compliant), updatedAt, id)
	return err
}

func (r Repo) CountInstancesByStatus(ctx context.Context) (map[domain.InstanceStatus]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM instances GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.InstanceStatus]int{}
	for rows.Next() {
		var status domain.InstanceStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) CountOverdue(ctx context.Context, now string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM instances WHERE due_date<? AND status IN ('pending','in_progress')`, now).Scan(&n)
	return n, err
}

// OpenInstancesForSchedule counts instances that still reference a schedule
// and are not terminal; schedules with open instances are deactivated, not
// deleted.
func (r Repo) OpenInstancesForSchedule(ctx context.Context, scheduleID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM instances WHERE schedule_id=? AND status IN ('pending','in_progress')`, scheduleID).Scan(&n)
	return n, err
}

// DueReminders returns open instances inside their schedule's reminder
// window at now.
func (r Repo) DueReminders(ctx context.Context, now string) ([]domain.Instance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+prefixed(instanceColumns, "i.")+`
FROM instances i JOIN schedules s ON s.id = i.schedule_id
WHERE i.status IN ('pending','in_progress')
  AND datetime(i.due_date, '-' || s.reminder_days || ' days') <= datetime(?)
ORDER BY i.due_date ASC, i.id ASC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Instance
	for rows.Next() {
		i, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

func prefixed(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i := range parts {
		parts[i] = prefix + parts[i]
	}
	return strings.Join(parts, ",")
}
