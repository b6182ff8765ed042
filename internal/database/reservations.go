package database

import (
	"context"
	"database/sql"
	"fmt"

	"pavilion/internal/models"
)

func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	result, err := db.ExecContext(ctx,
		`INSERT INTO reservations (resource_id, resource_type, reserved_from, reserved_to, slot, note)
         VALUES (?, ?, ?, ?, ?, ?)`,
		r.ResourceID, r.ResourceType, r.ReservedFrom, r.ReservedTo, r.Slot, r.Note)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}
	r.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get reservation id: %w", err)
	}
	return nil
}

func (db *DB) DeleteReservation(ctx context.Context, id int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete reservation %d: %w", id, err)
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

// GetReservationsForResource returns reservations whose inclusive window
// intersects the inclusive day range [from, to].
func (db *DB) GetReservationsForResource(ctx context.Context, resourceID int64, from, to string) ([]*models.Reservation, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, resource_id, resource_type, reserved_from, reserved_to, slot, note, created_at
         FROM reservations
         WHERE resource_id = ? AND date(reserved_from) <= ? AND date(reserved_to) >= ?
         ORDER BY id`,
		resourceID, to, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get reservations for resource %d: %w", resourceID, err)
	}
	defer rows.Close()
	return collectReservations(rows)
}

// ResourceIDsReservedOn returns the distinct resources with a reservation
// window covering the given day.
func (db *DB) ResourceIDsReservedOn(ctx context.Context, dayKey string) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT resource_id FROM reservations
         WHERE date(reserved_from) <= ? AND date(reserved_to) >= ?`,
		dayKey, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list reserved resource ids: %w", err)
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

func collectReservations(rows *sql.Rows) ([]*models.Reservation, error) {
	var reservations []*models.Reservation
	for rows.Next() {
		var r models.Reservation
		var note sql.NullString
		err := rows.Scan(&r.ID, &r.ResourceID, &r.ResourceType,
			&r.ReservedFrom, &r.ReservedTo, &r.Slot, &note, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		r.Note = note.String
		reservations = append(reservations, &r)
	}
	return reservations, rows.Err()
}
