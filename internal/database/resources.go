package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pavilion/internal/models"
)

const resourceColumns = `id, type, name, description, capacity, min_guests, max_guests,
        member_price, guest_price, sort_order, is_active, is_booked, is_reserved,
        on_hold, hold_by, hold_expiry, is_out_of_service, out_from, out_to, out_reason,
        created_at, updated_at, version`

func (db *DB) GetResource(ctx context.Context, id int64) (*models.Resource, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	r, err := scanResource(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource %d: %w", id, err)
	}
	return r, nil
}

func (db *DB) ListResources(ctx context.Context) ([]*models.Resource, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()
	return collectResources(rows)
}

func (db *DB) ListResourcesByType(ctx context.Context, typ models.ResourceType) ([]*models.Resource, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE type = ? ORDER BY sort_order, id`, typ)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources of type %s: %w", typ, err)
	}
	defer rows.Close()
	return collectResources(rows)
}

// PlaceHold is the single serialization point for hold placement. The update
// succeeds only if no live hold exists or the existing hold belongs to the
// same holder, which makes repeated placement by one holder idempotent.
func (db *DB) PlaceHold(ctx context.Context, id int64, holder string, expiry, now time.Time) error {
	result, err := db.ExecContext(ctx,
		`UPDATE resources
         SET on_hold = 1, hold_by = ?, hold_expiry = ?, updated_at = ?, version = version + 1
         WHERE id = ? AND is_active = 1 AND is_out_of_service = 0
           AND (on_hold = 0 OR hold_expiry IS NULL OR hold_expiry <= ? OR hold_by = ?)`,
		holder, expiry, now, id, now, holder)
	if err != nil {
		return fmt.Errorf("failed to place hold on resource %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// The conditional write matched nothing. Read the row once to report why.
	r, err := db.GetResource(ctx, id)
	if err != nil {
		return err
	}
	if !r.IsActive || r.IsOutOfService {
		return ErrNotAvailable
	}
	return ErrAlreadyHeld
}

// ReleaseHold clears a hold owned by holder. A release by anyone else leaves
// the row untouched and reports ErrNotHolder.
func (db *DB) ReleaseHold(ctx context.Context, id int64, holder string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE resources
         SET on_hold = 0, hold_by = '', hold_expiry = NULL,
             updated_at = CURRENT_TIMESTAMP, version = version + 1
         WHERE id = ? AND on_hold = 1 AND hold_by = ?`,
		id, holder)
	if err != nil {
		return fmt.Errorf("failed to release hold on resource %d: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotHolder
	}
	return nil
}

// ClearExpiredHolds drops every hold whose expiry has passed and returns the
// resources it cleared, captured before the clear so callers still see who
// held them. Each row is cleared with its own conditional update; a hold
// released or re-placed between the list and the clear is skipped rather
// than reported.
func (db *DB) ClearExpiredHolds(ctx context.Context, now time.Time) ([]*models.Resource, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources
         WHERE on_hold = 1 AND hold_expiry IS NOT NULL AND hold_expiry <= ?
         ORDER BY id`,
		now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	expired, err := collectResources(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	var cleared []*models.Resource
	for _, r := range expired {
		result, err := db.ExecContext(ctx,
			`UPDATE resources
             SET on_hold = 0, hold_by = '', hold_expiry = NULL,
                 updated_at = CURRENT_TIMESTAMP, version = version + 1
             WHERE id = ? AND on_hold = 1 AND hold_expiry IS NOT NULL AND hold_expiry <= ?`,
			r.ID, now)
		if err != nil {
			return cleared, fmt.Errorf("failed to clear expired hold on resource %d: %w", r.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return cleared, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected > 0 {
			cleared = append(cleared, r)
		}
	}
	return cleared, nil
}

// ScheduleOutOfService records a maintenance window on the resource. The
// window becomes effective at day granularity when the reconciler next runs.
func (db *DB) ScheduleOutOfService(ctx context.Context, id int64, from, to time.Time, reason string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE resources
         SET out_from = ?, out_to = ?, out_reason = ?,
             updated_at = CURRENT_TIMESTAMP, version = version + 1
         WHERE id = ?`,
		from, to, reason, id)
	if err != nil {
		return fmt.Errorf("failed to schedule out-of-service for resource %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOutOfServiceDue returns resources whose scheduled window covers today
// but whose flag has not flipped yet.
func (db *DB) ListOutOfServiceDue(ctx context.Context, todayKey string) ([]*models.Resource, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources
         WHERE is_out_of_service = 0 AND out_from IS NOT NULL AND out_to IS NOT NULL
           AND date(out_from) <= ? AND date(out_to) >= ?`,
		todayKey, todayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list out-of-service candidates: %w", err)
	}
	defer rows.Close()
	return collectResources(rows)
}

// ListOutOfServiceLapsed returns resources still flagged out of service whose
// window ended before today.
func (db *DB) ListOutOfServiceLapsed(ctx context.Context, todayKey string) ([]*models.Resource, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resources
         WHERE is_out_of_service = 1 AND out_to IS NOT NULL AND date(out_to) < ?`,
		todayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed out-of-service resources: %w", err)
	}
	defer rows.Close()
	return collectResources(rows)
}

// MarkOutOfService flips the flag for a window that has started. The update
// is guarded by the row version so a concurrent writer forces a retry on the
// next sweep instead of a silent overwrite.
func (db *DB) MarkOutOfService(ctx context.Context, id int64, version int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE resources
         SET is_out_of_service = 1, is_active = 0,
             updated_at = CURRENT_TIMESTAMP, version = version + 1
         WHERE id = ? AND version = ?`,
		id, version)
	if err != nil {
		return fmt.Errorf("failed to mark resource %d out of service: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// ClearOutOfService restores a resource whose window has lapsed, wiping the
// window and reason alongside the flag.
func (db *DB) ClearOutOfService(ctx context.Context, id int64, version int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE resources
         SET is_out_of_service = 0, is_active = 1,
             out_from = NULL, out_to = NULL, out_reason = '',
             updated_at = CURRENT_TIMESTAMP, version = version + 1
         WHERE id = ? AND version = ?`,
		id, version)
	if err != nil {
		return fmt.Errorf("failed to clear out-of-service on resource %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) SetReservedFlag(ctx context.Context, id int64, reserved bool) error {
	_, err := db.ExecContext(ctx,
		`UPDATE resources
         SET is_reserved = ?, updated_at = CURRENT_TIMESTAMP, version = version + 1
         WHERE id = ?`,
		reserved, id)
	if err != nil {
		return fmt.Errorf("failed to set reserved flag on resource %d: %w", id, err)
	}
	return nil
}

// ListReservedFlagged returns the ids of resources currently carrying the
// reserved flag, for the reconciler's set difference against live reservations.
func (db *DB) ListReservedFlagged(ctx context.Context) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM resources WHERE is_reserved = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reserved resources: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan resource id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*models.Resource, error) {
	var r models.Resource
	var description sql.NullString
	var holdExpiry, outFrom, outTo sql.NullTime

	err := row.Scan(
		&r.ID, &r.Type, &r.Name, &description, &r.Capacity, &r.MinGuests, &r.MaxGuests,
		&r.MemberPrice, &r.GuestPrice, &r.SortOrder, &r.IsActive, &r.IsBooked, &r.IsReserved,
		&r.OnHold, &r.HoldBy, &holdExpiry, &r.IsOutOfService, &outFrom, &outTo, &r.OutReason,
		&r.CreatedAt, &r.UpdatedAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}

	r.Description = description.String
	if holdExpiry.Valid {
		r.HoldExpiry = &holdExpiry.Time
	}
	if outFrom.Valid {
		r.OutFrom = &outFrom.Time
	}
	if outTo.Valid {
		r.OutTo = &outTo.Time
	}
	return &r, nil
}

func collectResources(rows *sql.Rows) ([]*models.Resource, error) {
	var resources []*models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		resources = append(resources, r)
	}
	return resources, rows.Err()
}
