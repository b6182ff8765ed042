package worker

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pavilion/internal/database"
	"pavilion/internal/models"

	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	worker := NewLedgerWorker(db, ledger, nil, RetryPolicy{}, nil)

	booking := &models.Booking{
		ID:            1,
		ResourceID:    10,
		ResourceType:  models.ResourceRoom,
		ResourceName:  "Garden Room 1",
		MemberID:      100,
		MemberName:    "tester",
		TotalPrice:    3000,
		PaidAmount:    3000,
		PaymentStatus: models.PaymentPaid,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncUpsert, booking.ID, booking); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "completed" {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if ledger.upsertCalls != 1 {
		t.Fatalf("expected upsert call, got %d", ledger.upsertCalls)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{err: errors.New("boom")}
	worker := NewLedgerWorker(db, ledger, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	booking := &models.Booking{ID: 2, ResourceID: 10, ResourceName: "Garden Room 1", MemberID: 100, MemberName: "tester", TotalPrice: 3000, PaymentStatus: models.PaymentPaid, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, models.SyncUpsert, booking.ID, booking); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "retry" {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{err: errors.New("fatal")}
	worker := NewLedgerWorker(db, ledger, nil, RetryPolicy{MaxRetries: 1}, nil)

	booking := &models.Booking{ID: 3, ResourceID: 10, ResourceName: "Garden Room 1", MemberID: 100, MemberName: "tester", TotalPrice: 3000, PaymentStatus: models.PaymentPaid, CreatedAt: time.Now(), UpdatedAt: time.Now()}

	ctx := context.Background()
	worker.EnqueueTask(ctx, models.SyncUpsert, booking.ID, booking)
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != "failed" {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestLedgerWorker_HandleLedgerTask(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	worker := NewLedgerWorker(db, ledger, nil, RetryPolicy{MaxRetries: 3}, nil)

	ctx := context.Background()

	t.Run("Upsert", func(t *testing.T) {
		booking := &models.Booking{ID: 1, ResourceName: "Pine Lawn"}
		err := worker.handleLedgerTask(ctx, models.SyncUpsert, ledgerTaskPayload{Booking: booking})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if ledger.upsertCalls != 1 {
			t.Fatalf("expected 1 upsert call, got %d", ledger.upsertCalls)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		err := worker.handleLedgerTask(ctx, models.SyncDelete, ledgerTaskPayload{BookingID: 123})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if ledger.deleteCalls != 1 {
			t.Fatalf("expected 1 delete call, got %d", ledger.deleteCalls)
		}
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		err := worker.handleLedgerTask(ctx, models.SyncUpdateStatus, ledgerTaskPayload{BookingID: 123, Status: "PAID"})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if ledger.statusCalls != 1 {
			t.Fatalf("expected 1 status call, got %d", ledger.statusCalls)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		err := worker.handleLedgerTask(ctx, "resync_everything", ledgerTaskPayload{BookingID: 123})
		if err == nil {
			t.Fatalf("expected error for unknown task type")
		}
	})
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}

	// A zero policy falls back to one-second doubling without a cap.
	var zero RetryPolicy
	if got := zero.NextDelay(3); got != 4*time.Second {
		t.Fatalf("zero policy attempt3 expected 4s, got %s", got)
	}
}

func TestLedgerWorker_EnqueueTask(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	worker := NewLedgerWorker(db, ledger, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	booking := &models.Booking{ID: 1, MemberName: "test", PaymentStatus: models.PaymentPaid}

	t.Run("ValidTask", func(t *testing.T) {
		err := worker.EnqueueTask(ctx, models.SyncUpsert, 1, booking)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	})

	t.Run("StatusFromBooking", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, models.SyncUpdateStatus, 1, booking); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		task, ok := worker.tryLocalQueue()
		if !ok {
			t.Fatalf("expected task in local queue")
		}
		payload, err := worker.decodePayload(task.Payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.Status != string(models.PaymentPaid) {
			t.Fatalf("expected status snapshot %s, got %s", models.PaymentPaid, payload.Status)
		}
	})

	t.Run("InvalidTaskType", func(t *testing.T) {
		err := worker.EnqueueTask(ctx, "", 1, booking)
		if err == nil {
			t.Fatalf("expected error for empty task type")
		}
	})

	t.Run("InvalidBookingID", func(t *testing.T) {
		err := worker.EnqueueTask(ctx, models.SyncUpsert, 0, nil)
		if err == nil {
			t.Fatalf("expected error for missing booking id")
		}
	})
}

func TestLedgerWorker_DecodePayload(t *testing.T) {
	worker := NewLedgerWorker(nil, nil, nil, RetryPolicy{}, nil)

	t.Run("ValidPayload", func(t *testing.T) {
		payload := `{"booking_id":123,"status":"PAID"}`
		decoded, err := worker.decodePayload(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.BookingID != 123 || decoded.Status != "PAID" {
			t.Fatalf("unexpected decoded payload: %+v", decoded)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		payload := `invalid json`
		_, err := worker.decodePayload(payload)
		if err == nil {
			t.Fatalf("expected error for invalid json")
		}
	})
}

// Helpers

type fakeLedger struct {
	err         error
	upsertCalls int
	deleteCalls int
	statusCalls int
}

func (f *fakeLedger) UpsertBooking(ctx context.Context, b *models.Booking) error {
	f.upsertCalls++
	return f.err
}

func (f *fakeLedger) DeleteBookingRow(ctx context.Context, id int64) error {
	f.deleteCalls++
	return f.err
}

func (f *fakeLedger) UpdateBookingStatus(ctx context.Context, id int64, status string) error {
	f.statusCalls++
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM sync_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
