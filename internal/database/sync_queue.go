package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pavilion/internal/models"
)

const syncTaskColumns = `id, task_type, booking_id, payload, status, retry_count,
        last_error, created_at, processed_at, next_retry_at`

// CreateSyncTask durably records a ledger push before any delivery attempt.
// The table is the source of truth for the worker; the redis queue only
// wakes it up faster.
func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	now := time.Now()
	result, err := db.ExecContext(ctx,
		`INSERT INTO sync_queue (
            task_type, booking_id, payload, status, retry_count, last_error,
            created_at, next_retry_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.BookingID, task.Payload, task.Status,
		task.RetryCount, task.LastError, now, task.NextRetryAt)
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	task.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get sync task id: %w", err)
	}
	task.CreatedAt = now
	return nil
}

// GetPendingSyncTasks returns up to limit tasks that are due now: fresh ones
// and retries whose backoff has elapsed, oldest first so the queue drains in
// order.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+syncTaskColumns+` FROM sync_queue
         WHERE status IN ('pending', 'retry')
           AND (next_retry_at IS NULL OR next_retry_at <= ?)
         ORDER BY created_at ASC LIMIT ?`,
		time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync tasks: %w", err)
	}
	defer rows.Close()
	return collectSyncTasks(rows)
}

// UpdateSyncTaskStatus moves a task through its lifecycle. A retry bumps the
// attempt counter and schedules the next wake-up; completed and failed are
// terminal and stamp processed_at.
func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var query string
	var args []any
	now := time.Now()

	switch status {
	case "retry":
		query = `UPDATE sync_queue
                 SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1
                 WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	case "completed", "failed":
		query = `UPDATE sync_queue
                 SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ?
                 WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, now, id}
	default:
		query = `UPDATE sync_queue
                 SET status = ?, last_error = ?, next_retry_at = ?
                 WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update sync task %d: %w", id, err)
	}
	return nil
}

// GetFailedSyncTasks lists dead tasks newest first for operator inspection
// and requeue.
func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+syncTaskColumns+` FROM sync_queue
         WHERE status = 'failed' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed sync tasks: %w", err)
	}
	defer rows.Close()
	return collectSyncTasks(rows)
}

func collectSyncTasks(rows *sql.Rows) ([]models.SyncTask, error) {
	var tasks []models.SyncTask
	for rows.Next() {
		var t models.SyncTask
		err := rows.Scan(
			&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status,
			&t.RetryCount, &t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
