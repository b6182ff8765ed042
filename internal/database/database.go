package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"pavilion/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

type DB struct {
	*sql.DB
	log zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "database").Logger()
	}
	log.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS resources (
            id INTEGER PRIMARY KEY,
            type TEXT NOT NULL,
            name TEXT NOT NULL,
            description TEXT,
            capacity INTEGER NOT NULL DEFAULT 0,
            min_guests INTEGER NOT NULL DEFAULT 0,
            max_guests INTEGER NOT NULL DEFAULT 0,
            member_price INTEGER NOT NULL DEFAULT 0,
            guest_price INTEGER NOT NULL DEFAULT 0,
            sort_order INTEGER NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            is_booked BOOLEAN NOT NULL DEFAULT 0,
            is_reserved BOOLEAN NOT NULL DEFAULT 0,
            on_hold BOOLEAN NOT NULL DEFAULT 0,
            hold_by TEXT NOT NULL DEFAULT '',
            hold_expiry DATETIME,
            is_out_of_service BOOLEAN NOT NULL DEFAULT 0,
            out_from DATETIME,
            out_to DATETIME,
            out_reason TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            resource_id INTEGER NOT NULL,
            resource_type TEXT NOT NULL,
            resource_name TEXT NOT NULL,
            member_id INTEGER NOT NULL,
            member_name TEXT NOT NULL,
            is_guest BOOLEAN NOT NULL DEFAULT 0,
            check_in DATETIME,
            check_out DATETIME,
            date DATETIME,
            slot TEXT NOT NULL DEFAULT '',
            start_hour INTEGER NOT NULL DEFAULT 0,
            guests INTEGER NOT NULL DEFAULT 0,
            total_price INTEGER NOT NULL DEFAULT 0,
            paid_amount INTEGER NOT NULL DEFAULT 0,
            pending_amount INTEGER NOT NULL DEFAULT 0,
            payment_status TEXT NOT NULL DEFAULT 'UNPAID',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            resource_id INTEGER NOT NULL,
            resource_type TEXT NOT NULL,
            reserved_from DATETIME NOT NULL,
            reserved_to DATETIME NOT NULL,
            slot TEXT NOT NULL DEFAULT '',
            note TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS vouchers (
            id TEXT PRIMARY KEY,
            booking_id INTEGER NOT NULL,
            type TEXT NOT NULL,
            amount INTEGER NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT NOT NULL DEFAULT '',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_resources_type ON resources(type)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_hold_expiry ON resources(hold_expiry)`,
		`CREATE INDEX IF NOT EXISTS idx_resources_out_to ON resources(out_to)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_resource_id ON bookings(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_check_in ON bookings(check_in)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_resource_id ON reservations(resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// UpsertResources seeds catalog rows, refreshing static attributes only.
// Dynamic state columns are never touched so restarts cannot wipe holds or
// out-of-service windows.
func (db *DB) UpsertResources(ctx context.Context, resources []models.Resource) error {
	query := `INSERT INTO resources (
                id, type, name, description, capacity, min_guests, max_guests,
                member_price, guest_price, sort_order, is_active
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                type = excluded.type,
                name = excluded.name,
                description = excluded.description,
                capacity = excluded.capacity,
                min_guests = excluded.min_guests,
                max_guests = excluded.max_guests,
                member_price = excluded.member_price,
                guest_price = excluded.guest_price,
                sort_order = excluded.sort_order,
                updated_at = CURRENT_TIMESTAMP`

	for _, r := range resources {
		_, err := db.ExecContext(ctx, query,
			r.ID, r.Type, r.Name, r.Description, r.Capacity, r.MinGuests, r.MaxGuests,
			r.MemberPrice, r.GuestPrice, r.SortOrder, r.IsActive,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert resource %d: %w", r.ID, err)
		}
	}
	return nil
}
