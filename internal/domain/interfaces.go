package domain

import (
	"context"
	"time"

	"pavilion/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Repository interface {
	GetResource(ctx context.Context, id int64) (*models.Resource, error)
	ListResources(ctx context.Context) ([]*models.Resource, error)
	ListResourcesByType(ctx context.Context, typ models.ResourceType) ([]*models.Resource, error)
	UpsertResources(ctx context.Context, resources []models.Resource) error

	PlaceHold(ctx context.Context, id int64, holder string, expiry, now time.Time) error
	ReleaseHold(ctx context.Context, id int64, holder string) error
	ClearExpiredHolds(ctx context.Context, now time.Time) ([]*models.Resource, error)

	ScheduleOutOfService(ctx context.Context, id int64, from, to time.Time, reason string) error
	ListOutOfServiceDue(ctx context.Context, todayKey string) ([]*models.Resource, error)
	ListOutOfServiceLapsed(ctx context.Context, todayKey string) ([]*models.Resource, error)
	MarkOutOfService(ctx context.Context, id int64, version int64) error
	ClearOutOfService(ctx context.Context, id int64, version int64) error

	SetReservedFlag(ctx context.Context, id int64, reserved bool) error
	ListReservedFlagged(ctx context.Context) ([]int64, error)

	FinalizeBookings(ctx context.Context, holder string, now time.Time, bookings []*models.Booking, vouchers []*models.PaymentVoucher) error
	CancelBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingsForResource(ctx context.Context, resourceID int64, from, to string) ([]*models.Booking, error)
	GetBookingsInRange(ctx context.Context, from, to string) ([]*models.Booking, error)
	GetVouchersForBooking(ctx context.Context, bookingID int64) ([]*models.PaymentVoucher, error)

	CreateReservation(ctx context.Context, r *models.Reservation) error
	DeleteReservation(ctx context.Context, id int64) error
	GetReservationsForResource(ctx context.Context, resourceID int64, from, to string) ([]*models.Reservation, error)
	ResourceIDsReservedOn(ctx context.Context, dayKey string) ([]int64, error)

	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error)
}

// DraftRepository keeps in-flight booking drafts keyed by invoice id for the
// window between invoice creation and the payment callback.
type DraftRepository interface {
	SaveDraft(ctx context.Context, draft *models.BookingDraft, ttl time.Duration) error
	GetDraft(ctx context.Context, invoiceID string) (*models.BookingDraft, error)
	DeleteDraft(ctx context.Context, invoiceID string) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// PaymentGateway creates invoices for held bookings and reports the due
// amount split the member may settle.
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, req *models.InvoiceRequest) (*models.Invoice, error)
}
