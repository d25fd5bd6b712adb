package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hray3182/Cadence/internal/database"
	"github.com/hray3182/Cadence/internal/models"
)

const instanceColumns = `instance_id, from_user_id, to_user_id, title, description, event_time,
		 reminder_type, template_id, notified_at, created_at, updated_at`

type InstanceRepository struct {
	db *database.DB
}

func NewInstanceRepository(db *database.DB) *InstanceRepository {
	return &InstanceRepository{db: db}
}

func (r *InstanceRepository) Create(ctx context.Context, inst *models.Instance) error {
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO instances (from_user_id, to_user_id, title, description, event_time, reminder_type, template_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING instance_id, created_at, updated_at`,
		inst.FromUserID, inst.ToUserID, inst.Title, inst.Description, inst.EventTime,
		inst.ReminderType, inst.TemplateID,
	).Scan(&inst.InstanceID, &inst.CreatedAt, &inst.UpdatedAt)
}

// BulkInsert flushes one expansion batch. pgx batches keep this a single
// round-trip; generated IDs are written back into the slice.
func (r *InstanceRepository) BulkInsert(ctx context.Context, instances []*models.Instance) error {
	if len(instances) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, inst := range instances {
		batch.Queue(
			`INSERT INTO instances (from_user_id, to_user_id, title, description, event_time, reminder_type, template_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING instance_id, created_at, updated_at`,
			inst.FromUserID, inst.ToUserID, inst.Title, inst.Description, inst.EventTime,
			inst.ReminderType, inst.TemplateID,
		)
	}
	results := r.db.Pool.SendBatch(ctx, batch)
	defer results.Close()
	for _, inst := range instances {
		if err := results.QueryRow().Scan(&inst.InstanceID, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return fmt.Errorf("bulk insert instances: %w", err)
		}
	}
	return nil
}

// ExistsByTemplateAndTime is the duplicate guard for one-off generation of a
// (template, eventTime) pair.
func (r *InstanceRepository) ExistsByTemplateAndTime(ctx context.Context, templateID int64, eventTime time.Time) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM instances WHERE template_id = $1 AND event_time = $2)`,
		templateID, eventTime,
	).Scan(&exists)
	return exists, err
}

func (r *InstanceRepository) CountByTemplate(ctx context.Context, templateID int64) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM instances WHERE template_id = $1`, templateID).Scan(&n)
	return n, err
}

func (r *InstanceRepository) GetByID(ctx context.Context, instanceID int64) (*models.Instance, error) {
	return r.scanOne(r.db.Pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE instance_id = $1`, instanceID))
}

// DeleteByTemplate clears every instance generated from the template. The
// regeneration pipeline uses this full reset before re-expansion.
func (r *InstanceRepository) DeleteByTemplate(ctx context.Context, templateID int64) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM instances WHERE template_id = $1`, templateID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *InstanceRepository) Delete(ctx context.Context, instanceID, userID int64) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM instances WHERE instance_id = $1 AND from_user_id = $2`, instanceID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Reschedule moves an instance to a new event time. The scheduler bridge
// must re-register the timer afterwards.
func (r *InstanceRepository) Reschedule(ctx context.Context, instanceID int64, eventTime time.Time) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE instances SET event_time = $1, notified_at = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE instance_id = $2`,
		eventTime, instanceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueBetween returns undelivered instances with event_time in (from, to].
// The prefetch job and the delivery fallback path both read through here.
func (r *InstanceRepository) ListDueBetween(ctx context.Context, from, to time.Time) ([]*models.Instance, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM instances
		 WHERE notified_at IS NULL AND event_time > $1 AND event_time <= $2
		 ORDER BY event_time ASC`,
		from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *InstanceRepository) ListByTemplate(ctx context.Context, templateID int64) ([]*models.Instance, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE template_id = $1 ORDER BY event_time ASC`,
		templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *InstanceRepository) ListUpcomingByUser(ctx context.Context, userID int64, after time.Time, limit int) ([]*models.Instance, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM instances
		 WHERE to_user_id = $1 AND event_time > $2
		 ORDER BY event_time ASC LIMIT $3`,
		userID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

// MarkNotified stamps delivery exactly once: the conditional update makes a
// second concurrent worker lose and skip the send.
func (r *InstanceRepository) MarkNotified(ctx context.Context, instanceID int64, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE instances SET notified_at = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE instance_id = $2 AND notified_at IS NULL`,
		at, instanceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListFrom returns instances with event_time at or after the cutoff. The
// scheduler bridge restores timers from this set on startup.
func (r *InstanceRepository) ListFrom(ctx context.Context, cutoff time.Time) ([]*models.Instance, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+instanceColumns+` FROM instances
		 WHERE notified_at IS NULL AND event_time >= $1
		 ORDER BY event_time ASC`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAll(rows)
}

func (r *InstanceRepository) scanOne(row pgx.Row) (*models.Instance, error) {
	inst := &models.Instance{}
	err := row.Scan(&inst.InstanceID, &inst.FromUserID, &inst.ToUserID, &inst.Title, &inst.Description,
		&inst.EventTime, &inst.ReminderType, &inst.TemplateID, &inst.NotifiedAt,
		&inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *InstanceRepository) scanAll(rows pgx.Rows) ([]*models.Instance, error) {
	var instances []*models.Instance
	for rows.Next() {
		inst := &models.Instance{}
		if err := rows.Scan(&inst.InstanceID, &inst.FromUserID, &inst.ToUserID, &inst.Title, &inst.Description,
			&inst.EventTime, &inst.ReminderType, &inst.TemplateID, &inst.NotifiedAt,
			&inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
