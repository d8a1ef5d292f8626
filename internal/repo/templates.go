package repo

import (
	"context"
	"database/sql"

	"checkline/internal/domain"
)

// InsertTemplate writes a template and its ordered items in one transaction.
func (r Repo) InsertTemplate(ctx context.Context, tx *sql.Tx, t domain.Template) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO templates(id,name,mandatory,frequency_days,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.Name, boolToInt(t.Mandatory), nullableInt(t.FrequencyDays), t.CreatedAt); err != nil {
		return err
	}
	for _, it := range t.Items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO template_items(id,template_id,code,label,position,required,weight,max_score) VALUES (?,?,?,?,?,?,?,?)`,
			it.ID, t.ID, it.Code, nullable(it.Label), it.Position, boolToInt(it.Required), it.Weight, it.MaxScore); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	var t domain.Template
	var freq sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,mandatory,frequency_days,created_at FROM templates WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Mandatory, &freq, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if freq.Valid {
		t.FrequencyDays = int(freq.Int64)
	}
	items, err := r.listTemplateItems(ctx, t.ID)
	if err != nil {
		return t, err
	}
	t.Items = items
	return t, nil
}

func (r Repo) listTemplateItems(ctx context.Context, templateID string) ([]domain.TemplateItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,template_id,code,label,position,required,weight,max_score FROM template_items WHERE template_id=? ORDER BY position ASC`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.TemplateItem
	for rows.Next() {
		var it domain.TemplateItem
		var label sql.NullString
		if err := rows.Scan(&it.ID, &it.TemplateID, &it.Code, &label, &it.Position, &it.Required, &it.Weight, &it.MaxScore); err != nil {
			return nil, err
		}
		if label.Valid {
			it.Label = label.String
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r Repo) ListTemplates(ctx context.Context) ([]domain.Template, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,mandatory,frequency_days,created_at FROM templates ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Template
	for rows.Next() {
		var t domain.Template
		var freq sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Name, &t.Mandatory, &freq, &t.CreatedAt); err != nil {
			return nil, err
		}
		if freq.Valid {
			t.FrequencyDays = int(freq.Int64)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
