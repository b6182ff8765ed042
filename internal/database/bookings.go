package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pavilion/internal/models"
)

const bookingColumns = `id, resource_id, resource_type, resource_name, member_id, member_name,
        is_guest, check_in, check_out, date, slot, start_hour, guests,
        total_price, paid_amount, pending_amount, payment_status,
        created_at, updated_at, version`

// FinalizeBookings converts a set of held resources into bookings in one
// transaction: insert each booking row, flip the resource to booked while
// clearing its hold, and record the payment vouchers. Either every write
// lands or none do.
//
// The flip carries the same predicate as PlaceHold: it matches only when the
// resource is unheld, its hold has lapsed at now, or the hold belongs to
// holder. A live hold by anyone else leaves zero rows and the whole
// transaction rolls back with ErrAlreadyHeld, so finalizing can never wipe a
// hold it does not own.
func (db *DB) FinalizeBookings(ctx context.Context, holder string, now time.Time, bookings []*models.Booking, vouchers []*models.PaymentVoucher) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, b := range bookings {
		if !b.AmountsConsistent() {
			return fmt.Errorf("booking for resource %d: paid %d + pending %d != total %d",
				b.ResourceID, b.PaidAmount, b.PendingAmount, b.TotalPrice)
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO bookings (
                resource_id, resource_type, resource_name, member_id, member_name,
                is_guest, check_in, check_out, date, slot, start_hour, guests,
                total_price, paid_amount, pending_amount, payment_status
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ResourceID, b.ResourceType, b.ResourceName, b.MemberID, b.MemberName,
			b.IsGuest, nullTime(b.CheckIn), nullTime(b.CheckOut), nullTime(b.Date),
			b.Slot, b.StartHour, b.Guests,
			b.TotalPrice, b.PaidAmount, b.PendingAmount, b.PaymentStatus)
		if err != nil {
			return fmt.Errorf("failed to insert booking for resource %d: %w", b.ResourceID, err)
		}
		b.ID, err = result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get booking id: %w", err)
		}

		flip, err := tx.ExecContext(ctx,
			`UPDATE resources
             SET is_booked = 1, on_hold = 0, hold_by = '', hold_expiry = NULL,
                 updated_at = CURRENT_TIMESTAMP, version = version + 1
             WHERE id = ?
               AND (on_hold = 0 OR hold_expiry IS NULL OR hold_expiry <= ? OR hold_by = ?)`,
			b.ResourceID, now, holder)
		if err != nil {
			return fmt.Errorf("failed to mark resource %d booked: %w", b.ResourceID, err)
		}
		affected, err := flip.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM resources WHERE id = ?`, b.ResourceID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to diagnose finalize miss on resource %d: %w", b.ResourceID, err)
			}
			if exists == 0 {
				return fmt.Errorf("resource %d: %w", b.ResourceID, ErrNotFound)
			}
			return fmt.Errorf("resource %d: %w", b.ResourceID, ErrAlreadyHeld)
		}
	}

	for i, v := range vouchers {
		// A zero BookingID pairs the voucher with the booking at the same
		// index, whose id was just assigned.
		if v.BookingID == 0 && i < len(bookings) {
			v.BookingID = bookings[i].ID
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO vouchers (id, booking_id, type, amount) VALUES (?, ?, ?, ?)`,
			v.ID, v.BookingID, v.Type, v.Amount)
		if err != nil {
			return fmt.Errorf("failed to insert voucher %s: %w", v.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking transaction: %w", err)
	}
	return nil
}

// CancelBooking removes the booking and resets the resource flag in one
// transaction, returning the deleted booking for event payloads. If the flag
// reset matches no row the transaction is rolled back and ErrInconsistentCancel
// is reported so neither write survives alone.
func (db *DB) CancelBooking(ctx context.Context, id int64) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete booking %d: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM vouchers WHERE booking_id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete vouchers for booking %d: %w", id, err)
	}

	// Only drop the flag if no other booking still occupies the resource.
	var remaining int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE resource_id = ?`, b.ResourceID).Scan(&remaining)
	if err != nil {
		return nil, fmt.Errorf("failed to count remaining bookings: %w", err)
	}
	if remaining == 0 {
		result, err := tx.ExecContext(ctx,
			`UPDATE resources
             SET is_booked = 0, updated_at = CURRENT_TIMESTAMP, version = version + 1
             WHERE id = ?`,
			b.ResourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to reset booked flag on resource %d: %w", b.ResourceID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if affected == 0 {
			return nil, ErrInconsistentCancel
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancel transaction: %w", err)
	}
	return b, nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking %d: %w", id, err)
	}
	return b, nil
}

// GetBookingsForResource returns bookings whose extent intersects the
// inclusive day range [from, to]. Room bookings occupy the nights
// [check_in, check_out); slot bookings occupy their single date.
func (db *DB) GetBookingsForResource(ctx context.Context, resourceID int64, from, to string) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
         WHERE resource_id = ?
           AND ((check_in IS NOT NULL AND date(check_in) <= ? AND date(check_out) > ?)
             OR (date IS NOT NULL AND date(date) BETWEEN ? AND ?))
         ORDER BY id`,
		resourceID, to, from, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings for resource %d: %w", resourceID, err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

// GetBookingsInRange returns every booking intersecting the inclusive day
// range, across all resources, ordered for export.
func (db *DB) GetBookingsInRange(ctx context.Context, from, to string) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
         WHERE (check_in IS NOT NULL AND date(check_in) <= ? AND date(check_out) > ?)
            OR (date IS NOT NULL AND date(date) BETWEEN ? AND ?)
         ORDER BY resource_id, id`,
		to, from, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings in range: %w", err)
	}
	defer rows.Close()
	return collectBookings(rows)
}

func (db *DB) GetVouchersForBooking(ctx context.Context, bookingID int64) ([]*models.PaymentVoucher, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, booking_id, type, amount, created_at
         FROM vouchers WHERE booking_id = ? ORDER BY created_at`,
		bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get vouchers for booking %d: %w", bookingID, err)
	}
	defer rows.Close()

	var vouchers []*models.PaymentVoucher
	for rows.Next() {
		var v models.PaymentVoucher
		if err := rows.Scan(&v.ID, &v.BookingID, &v.Type, &v.Amount, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		vouchers = append(vouchers, &v)
	}
	return vouchers, rows.Err()
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var checkIn, checkOut, date sql.NullTime

	err := row.Scan(
		&b.ID, &b.ResourceID, &b.ResourceType, &b.ResourceName, &b.MemberID, &b.MemberName,
		&b.IsGuest, &checkIn, &checkOut, &date, &b.Slot, &b.StartHour, &b.Guests,
		&b.TotalPrice, &b.PaidAmount, &b.PendingAmount, &b.PaymentStatus,
		&b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	if checkIn.Valid {
		b.CheckIn = &checkIn.Time
	}
	if checkOut.Valid {
		b.CheckOut = &checkOut.Time
	}
	if date.Valid {
		b.Date = &date.Time
	}
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]*models.Booking, error) {
	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
