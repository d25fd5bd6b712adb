package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/Cadence/internal/database"
	"github.com/hray3182/Cadence/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const templateColumns = `template_id, from_user_id, to_user_id, title, description, recurrence_rule,
		 reminder_type, valid_from, valid_until, max_executions, last_generated_ym, idempotency_key,
		 created_at, updated_at`

type TemplateRepository struct {
	db *database.DB
}

func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// CreateIfAbsent inserts the template, or returns the existing row when one
// already carries the same idempotency key. The returned bool is true when a
// new row was created.
func (r *TemplateRepository) CreateIfAbsent(ctx context.Context, t *models.Template) (bool, error) {
	existing, err := r.GetByIdempotencyKey(ctx, t.IdempotencyKey)
	if err == nil {
		*t = *existing
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	err = r.db.Pool.QueryRow(ctx,
		`INSERT INTO templates (from_user_id, to_user_id, title, description, recurrence_rule,
		   reminder_type, valid_from, valid_until, max_executions, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING template_id, created_at, updated_at`,
		t.FromUserID, t.ToUserID, t.Title, t.Description, t.RecurrenceRule,
		t.ReminderType, t.ValidFrom, t.ValidUntil, t.MaxExecutions, t.IdempotencyKey,
	).Scan(&t.TemplateID, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a race with a concurrent create for the same key.
		existing, err := r.GetByIdempotencyKey(ctx, t.IdempotencyKey)
		if err != nil {
			return false, err
		}
		*t = *existing
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert template: %w", err)
	}
	return true, nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, templateID int64) (*models.Template, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE template_id = $1`, templateID))
}

func (r *TemplateRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Template, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE idempotency_key = $1`, key))
}

func (r *TemplateRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Template, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE from_user_id = $1 ORDER BY template_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *TemplateRepository) Update(ctx context.Context, t *models.Template) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE templates SET title = $1, description = $2, recurrence_rule = $3, reminder_type = $4,
		   valid_from = $5, valid_until = $6, max_executions = $7, updated_at = CURRENT_TIMESTAMP
		 WHERE template_id = $8 AND from_user_id = $9`,
		t.Title, t.Description, t.RecurrenceRule, t.ReminderType,
		t.ValidFrom, t.ValidUntil, t.MaxExecutions, t.TemplateID, t.FromUserID,
	)
	return err
}

// SetLastGeneratedYm advances the generation watermark. The WHERE guard keeps
// the value monotonically non-decreasing even under concurrent ensure calls.
func (r *TemplateRepository) SetLastGeneratedYm(ctx context.Context, templateID int64, ym int) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE templates SET last_generated_ym = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE template_id = $2 AND (last_generated_ym IS NULL OR last_generated_ym < $1)`,
		ym, templateID,
	)
	return err
}

func (r *TemplateRepository) Delete(ctx context.Context, templateID, userID int64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM templates WHERE template_id = $1 AND from_user_id = $2`, templateID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TemplateRepository) scanOne(row pgx.Row) (*models.Template, error) {
	t := &models.Template{}
	err := row.Scan(&t.TemplateID, &t.FromUserID, &t.ToUserID, &t.Title, &t.Description,
		&t.RecurrenceRule, &t.ReminderType, &t.ValidFrom, &t.ValidUntil, &t.MaxExecutions,
		&t.LastGeneratedYm, &t.IdempotencyKey, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TemplateRepository) scanAll(rows pgx.Rows) ([]*models.Template, error) {
	var templates []*models.Template
	for rows.Next() {
		t := &models.Template{}
		if err := rows.Scan(&t.TemplateID, &t.FromUserID, &t.ToUserID, &t.Title, &t.Description,
			&t.RecurrenceRule, &t.ReminderType, &t.ValidFrom, &t.ValidUntil, &t.MaxExecutions,
			&t.LastGeneratedYm, &t.IdempotencyKey, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}
