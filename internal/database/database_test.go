package database

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"pavilion/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	return db
}

func seedResource(t *testing.T, db *DB, id int64, typ models.ResourceType) {
	t.Helper()
	err := db.UpsertResources(context.Background(), []models.Resource{{
		ID:          id,
		Type:        typ,
		Name:        "Test Resource",
		Capacity:    2,
		MemberPrice: 1000,
		GuestPrice:  1500,
		IsActive:    true,
	}})
	require.NoError(t, err)
}

func TestUpsertResourcesPreservesState(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)

	now := time.Now()
	expiry := now.Add(3 * time.Minute)
	require.NoError(t, db.PlaceHold(ctx, 1, "member-7", expiry, now))

	// Seeding the catalog again must not wipe the live hold.
	err := db.UpsertResources(ctx, []models.Resource{{
		ID:          1,
		Type:        models.ResourceRoom,
		Name:        "Renamed Resource",
		MemberPrice: 2000,
		IsActive:    true,
	}})
	require.NoError(t, err)

	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Resource", r.Name)
	assert.Equal(t, int64(2000), r.MemberPrice)
	assert.True(t, r.OnHold)
	assert.Equal(t, "member-7", r.HoldBy)
}

func TestPlaceHold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceHall)
	now := time.Now()
	expiry := now.Add(3 * time.Minute)

	require.NoError(t, db.PlaceHold(ctx, 1, "alice", expiry, now))

	// Re-placing by the same holder succeeds and refreshes the expiry.
	newExpiry := now.Add(5 * time.Minute)
	require.NoError(t, db.PlaceHold(ctx, 1, "alice", newExpiry, now))

	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, r.HoldExpiry)
	assert.WithinDuration(t, newExpiry, *r.HoldExpiry, time.Second)

	// A different holder loses while the hold is live.
	err = db.PlaceHold(ctx, 1, "bob", expiry, now)
	assert.ErrorIs(t, err, ErrAlreadyHeld)

	// After expiry the loser can take over.
	later := newExpiry.Add(time.Second)
	require.NoError(t, db.PlaceHold(ctx, 1, "bob", later.Add(3*time.Minute), later))

	r, err = db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "bob", r.HoldBy)
}

func TestPlaceHoldUnknownResource(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := db.PlaceHold(context.Background(), 99, "alice", time.Now().Add(time.Minute), time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPlaceHoldOutOfService(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceLawn)
	require.NoError(t, db.ScheduleOutOfService(ctx, 1, time.Now(), time.Now().AddDate(0, 0, 2), "repairs"))
	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, db.MarkOutOfService(ctx, 1, r.Version))

	err = db.PlaceHold(ctx, 1, "alice", time.Now().Add(time.Minute), time.Now())
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestReleaseHold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)
	now := time.Now()
	require.NoError(t, db.PlaceHold(ctx, 1, "alice", now.Add(time.Minute), now))

	// Non-owner release is a rejected no-op.
	err := db.ReleaseHold(ctx, 1, "bob")
	assert.ErrorIs(t, err, ErrNotHolder)

	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.OnHold)

	require.NoError(t, db.ReleaseHold(ctx, 1, "alice"))
	r, err = db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.OnHold)
	assert.Empty(t, r.HoldBy)
	assert.Nil(t, r.HoldExpiry)
}

func TestClearExpiredHolds(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)
	seedResource(t, db, 2, models.ResourceRoom)

	now := time.Now()
	require.NoError(t, db.PlaceHold(ctx, 1, "alice", now.Add(-time.Second), now.Add(-time.Minute)))
	require.NoError(t, db.PlaceHold(ctx, 2, "bob", now.Add(time.Hour), now))

	cleared, err := db.ClearExpiredHolds(ctx, now)
	require.NoError(t, err)
	require.Len(t, cleared, 1)
	assert.Equal(t, int64(1), cleared[0].ID)
	assert.Equal(t, "alice", cleared[0].HoldBy, "the cleared row still names its former holder")

	r1, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r1.OnHold)

	r2, err := db.GetResource(ctx, 2)
	require.NoError(t, err)
	assert.True(t, r2.OnHold)
}

func TestPlaceHoldConcurrent(t *testing.T) {
	logger := zerolog.New(zerolog.NewConsoleWriter())
	db, err := NewDB(filepath.Join(t.TempDir(), "concurrency.db"), &logger)
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceHall)

	const racers = 10
	now := time.Now()
	expiry := now.Add(3 * time.Minute)

	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			holder := string(rune('a' + n))
			results <- db.PlaceHold(ctx, 1, holder, expiry, now)
		}(i)
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyHeld)
		}
	}
	assert.Equal(t, 1, won, "exactly one racer should win the hold")
}

func TestFinalizeBookings(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)
	now := time.Now()
	require.NoError(t, db.PlaceHold(ctx, 1, "alice", now.Add(time.Minute), now))

	checkIn := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	checkOut := checkIn.AddDate(0, 0, 2)
	booking := &models.Booking{
		ResourceID:    1,
		ResourceType:  models.ResourceRoom,
		ResourceName:  "Test Resource",
		MemberID:      42,
		MemberName:    "Alice",
		CheckIn:       &checkIn,
		CheckOut:      &checkOut,
		TotalPrice:    2000,
		PaidAmount:    1000,
		PendingAmount: 1000,
		PaymentStatus: models.PaymentHalfPaid,
	}
	voucher := &models.PaymentVoucher{ID: "v-1", Type: models.VoucherHalfPayment, Amount: 1000}

	err := db.FinalizeBookings(ctx, "alice", now, []*models.Booking{booking}, nil)
	require.NoError(t, err)
	require.NotZero(t, booking.ID)

	voucher.BookingID = booking.ID
	_, err = db.ExecContext(ctx, `INSERT INTO vouchers (id, booking_id, type, amount) VALUES (?, ?, ?, ?)`,
		voucher.ID, voucher.BookingID, voucher.Type, voucher.Amount)
	require.NoError(t, err)

	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.IsBooked)
	assert.False(t, r.OnHold)
	assert.Nil(t, r.HoldExpiry)

	got, err := db.GetBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentHalfPaid, got.PaymentStatus)
	assert.Equal(t, int64(1000), got.PendingAmount)

	vouchers, err := db.GetVouchersForBooking(ctx, booking.ID)
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	assert.Equal(t, int64(1000), vouchers[0].Amount)
}

func TestFinalizeBookingsRejectsInconsistentAmounts(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceHall)
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	booking := &models.Booking{
		ResourceID:    1,
		ResourceType:  models.ResourceHall,
		ResourceName:  "Test Resource",
		MemberID:      42,
		MemberName:    "Alice",
		Date:          &date,
		Slot:          models.SlotMorning,
		TotalPrice:    1000,
		PaidAmount:    300,
		PendingAmount: 300,
		PaymentStatus: models.PaymentHalfPaid,
	}

	err := db.FinalizeBookings(ctx, "", time.Now(), []*models.Booking{booking}, nil)
	require.Error(t, err)

	// No partial write may survive.
	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsBooked)
}

func TestFinalizeBookingsRejectsForeignLiveHold(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)
	now := time.Now()
	require.NoError(t, db.PlaceHold(ctx, 1, "member:2", now.Add(3*time.Minute), now))

	checkIn := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	checkOut := checkIn.AddDate(0, 0, 1)
	booking := &models.Booking{
		ResourceID:    1,
		ResourceType:  models.ResourceRoom,
		ResourceName:  "Test Resource",
		MemberID:      1,
		MemberName:    "Alice",
		CheckIn:       &checkIn,
		CheckOut:      &checkOut,
		TotalPrice:    1000,
		PaidAmount:    1000,
		PaymentStatus: models.PaymentPaid,
	}

	err := db.FinalizeBookings(ctx, "member:1", now, []*models.Booking{booking}, nil)
	assert.ErrorIs(t, err, ErrAlreadyHeld)

	// The other member's live hold survives and no booking row lands.
	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsBooked)
	assert.True(t, r.OnHold)
	assert.Equal(t, "member:2", r.HoldBy)

	all, err := db.GetBookingsInRange(ctx, "2026-09-01", "2026-09-30")
	require.NoError(t, err)
	assert.Empty(t, all)

	// The same finalize succeeds once the blocking hold lapses.
	err = db.FinalizeBookings(ctx, "member:1", now.Add(5*time.Minute), []*models.Booking{booking}, nil)
	require.NoError(t, err)
}

func TestCancelBooking(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceHall)
	date := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	booking := &models.Booking{
		ResourceID:    1,
		ResourceType:  models.ResourceHall,
		ResourceName:  "Test Resource",
		MemberID:      42,
		MemberName:    "Alice",
		Date:          &date,
		Slot:          models.SlotEvening,
		TotalPrice:    1000,
		PaidAmount:    1000,
		PaymentStatus: models.PaymentPaid,
	}
	require.NoError(t, db.FinalizeBookings(ctx, "", time.Now(), []*models.Booking{booking}, []*models.PaymentVoucher{}))

	cancelled, err := db.CancelBooking(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.ID, cancelled.ID)

	_, err = db.GetBooking(ctx, booking.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsBooked)

	_, err = db.CancelBooking(ctx, booking.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancelBookingKeepsFlagWhileOthersRemain(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)
	ci1 := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	co1 := ci1.AddDate(0, 0, 1)
	ci2 := ci1.AddDate(0, 0, 5)
	co2 := ci2.AddDate(0, 0, 1)
	first := &models.Booking{
		ResourceID: 1, ResourceType: models.ResourceRoom, ResourceName: "Test Resource",
		MemberID: 1, MemberName: "A", CheckIn: &ci1, CheckOut: &co1,
		TotalPrice: 1000, PaidAmount: 1000, PaymentStatus: models.PaymentPaid,
	}
	second := &models.Booking{
		ResourceID: 1, ResourceType: models.ResourceRoom, ResourceName: "Test Resource",
		MemberID: 2, MemberName: "B", CheckIn: &ci2, CheckOut: &co2,
		TotalPrice: 1000, PaidAmount: 1000, PaymentStatus: models.PaymentPaid,
	}
	require.NoError(t, db.FinalizeBookings(ctx, "", time.Now(), []*models.Booking{first}, nil))
	require.NoError(t, db.FinalizeBookings(ctx, "", time.Now(), []*models.Booking{second}, nil))

	_, err := db.CancelBooking(ctx, first.ID)
	require.NoError(t, err)

	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.IsBooked, "flag stays while another booking occupies the resource")
}

func TestOutOfServiceSweepQueries(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceLawn)
	seedResource(t, db, 2, models.ResourceLawn)

	today := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	todayKey := today.Format("2006-01-02")

	// Window covering today on resource 1, window already lapsed on resource 2.
	require.NoError(t, db.ScheduleOutOfService(ctx, 1, today, today.AddDate(0, 0, 3), "mowing"))
	require.NoError(t, db.ScheduleOutOfService(ctx, 2, today.AddDate(0, 0, -5), today.AddDate(0, 0, -2), "done"))

	due, err := db.ListOutOfServiceDue(ctx, todayKey)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, int64(1), due[0].ID)

	require.NoError(t, db.MarkOutOfService(ctx, due[0].ID, due[0].Version))

	r2, err := db.GetResource(ctx, 2)
	require.NoError(t, err)
	require.NoError(t, db.MarkOutOfService(ctx, r2.ID, r2.Version))

	lapsed, err := db.ListOutOfServiceLapsed(ctx, todayKey)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)
	assert.Equal(t, int64(2), lapsed[0].ID)

	require.NoError(t, db.ClearOutOfService(ctx, 2, lapsed[0].Version))
	r2, err = db.GetResource(ctx, 2)
	require.NoError(t, err)
	assert.False(t, r2.IsOutOfService)
	assert.True(t, r2.IsActive)
	assert.Nil(t, r2.OutTo)
}

func TestMarkOutOfServiceVersionConflict(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)
	r, err := db.GetResource(ctx, 1)
	require.NoError(t, err)

	// A concurrent writer bumps the version between read and update.
	now := time.Now()
	require.NoError(t, db.PlaceHold(ctx, 1, "alice", now.Add(time.Minute), now))

	err = db.MarkOutOfService(ctx, 1, r.Version)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}

func TestReservationQueries(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceLawn)
	from := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 2)
	res := &models.Reservation{
		ResourceID:   1,
		ResourceType: models.ResourceLawn,
		ReservedFrom: from,
		ReservedTo:   to,
		Note:         "club event",
	}
	require.NoError(t, db.CreateReservation(ctx, res))
	require.NotZero(t, res.ID)

	ids, err := db.ResourceIDsReservedOn(ctx, from.AddDate(0, 0, 1).Format("2006-01-02"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	ids, err = db.ResourceIDsReservedOn(ctx, to.AddDate(0, 0, 1).Format("2006-01-02"))
	require.NoError(t, err)
	assert.Empty(t, ids)

	overlapping, err := db.GetReservationsForResource(ctx, 1,
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	require.NoError(t, err)
	require.Len(t, overlapping, 1)
	assert.Equal(t, "club event", overlapping[0].Note)

	require.NoError(t, db.DeleteReservation(ctx, res.ID))
	assert.ErrorIs(t, db.DeleteReservation(ctx, res.ID), ErrNotFound)
}

func TestBookingRangeQueries(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	seedResource(t, db, 1, models.ResourceRoom)
	ci := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	co := ci.AddDate(0, 0, 3)
	booking := &models.Booking{
		ResourceID: 1, ResourceType: models.ResourceRoom, ResourceName: "Test Resource",
		MemberID: 1, MemberName: "A", CheckIn: &ci, CheckOut: &co,
		TotalPrice: 3000, PaidAmount: 3000, PaymentStatus: models.PaymentPaid,
	}
	require.NoError(t, db.FinalizeBookings(ctx, "", time.Now(), []*models.Booking{booking}, nil))

	// The night range is [check_in, check_out): the 12th is occupied,
	// the 13th (checkout day) is free.
	got, err := db.GetBookingsForResource(ctx, 1, "2026-09-12", "2026-09-12")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = db.GetBookingsForResource(ctx, 1, "2026-09-13", "2026-09-14")
	require.NoError(t, err)
	assert.Empty(t, got)

	all, err := db.GetBookingsInRange(ctx, "2026-09-01", "2026-09-30")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
