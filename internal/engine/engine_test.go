package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"pavilion/internal/availability"
	"pavilion/internal/calendar"
	"pavilion/internal/clock"
	"pavilion/internal/database"
	"pavilion/internal/events"
	"pavilion/internal/hold"
	"pavilion/internal/models"
	"pavilion/internal/pricing"
	"pavilion/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	nextID  int
	fail    bool
	created []*models.InvoiceRequest
}

func (g *stubGateway) CreateInvoice(ctx context.Context, req *models.InvoiceRequest) (*models.Invoice, error) {
	if g.fail {
		return nil, fmt.Errorf("gateway unreachable")
	}
	g.nextID++
	g.created = append(g.created, req)
	return &models.Invoice{
		ID:        fmt.Sprintf("inv-%d", g.nextID),
		Reference: req.Reference,
		Amount:    req.Amount,
		ExpiresAt: req.ExpiresAt,
	}, nil
}

type testEnv struct {
	engine  *Engine
	db      *database.DB
	clock   *clock.Fixed
	gateway *stubGateway
	bus     *events.EventBus
}

func setup(t *testing.T) *testEnv {
	logger := zerolog.New(os.Stdout)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cal, err := calendar.New("UTC")
	require.NoError(t, err)

	clk := clock.NewFixed(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	gw := &stubGateway{}
	bus := events.NewEventBus()

	eng := New(Config{
		Repo:     db,
		Drafts:   repository.NewMemoryDraftRepository(),
		Avail:    availability.New(db, cal, clk, &logger),
		Holds:    hold.NewManager(db, clk, 3*time.Minute, &logger),
		Pricing:  pricing.New(cal),
		Gateway:  gw,
		Bus:      bus,
		Calendar: cal,
		Clock:    clk,
		Logger:   &logger,
	})
	return &testEnv{engine: eng, db: db, clock: clk, gateway: gw, bus: bus}
}

func (env *testEnv) seed(t *testing.T, resources ...models.Resource) {
	t.Helper()
	require.NoError(t, env.db.UpsertResources(context.Background(), resources))
}

func room(id int64) models.Resource {
	return models.Resource{ID: id, Type: models.ResourceRoom, Name: fmt.Sprintf("Room %d", id),
		MemberPrice: 1000, GuestPrice: 1500, IsActive: true}
}

func lawn(id int64) models.Resource {
	return models.Resource{ID: id, Type: models.ResourceLawn, Name: fmt.Sprintf("Lawn %d", id),
		MemberPrice: 2000, GuestPrice: 3000, MinGuests: 50, MaxGuests: 200, IsActive: true}
}

func day(d int) time.Time {
	return time.Date(2026, 9, d, 0, 0, 0, 0, time.UTC)
}

func roomRequest(memberID int64, from, to int) *InitiateRequest {
	ci, co := day(from), day(to)
	return &InitiateRequest{
		ResourceIDs: []int64{1},
		Extent:      models.Extent{Type: models.ResourceRoom, CheckIn: &ci, CheckOut: &co},
		MemberID:    memberID,
		MemberName:  "Alice",
	}
}

func TestFullPaymentFlow(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	var confirmed []events.BookingEventPayload
	env.bus.Subscribe(events.EventBookingConfirmed, func(ev *events.Event) error {
		var p events.BookingEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		confirmed = append(confirmed, p)
		return nil
	})

	result, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), result.Invoice.Amount)

	r, err := env.db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.OnHold)
	assert.Equal(t, "member:42", r.HoldBy)

	bookings, err := env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID:  result.Invoice.ID,
		PaidAmount: 2000,
	})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, models.PaymentPaid, bookings[0].PaymentStatus)
	assert.Equal(t, int64(0), bookings[0].PendingAmount)

	r, err = env.db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r.IsBooked)
	assert.False(t, r.OnHold)

	vouchers, err := env.db.GetVouchersForBooking(ctx, bookings[0].ID)
	require.NoError(t, err)
	require.Len(t, vouchers, 1)
	assert.Equal(t, models.VoucherFullPayment, vouchers[0].Type)

	require.Len(t, confirmed, 1)
	assert.Equal(t, bookings[0].ID, confirmed[0].BookingID)

	// The settled invoice cannot be replayed.
	_, err = env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID: result.Invoice.ID, PaidAmount: 2000,
	})
	assert.ErrorIs(t, err, ErrUnknownInvoice)
}

func TestHalfPaymentFlow(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	result, err := env.engine.Initiate(ctx, roomRequest(42, 10, 13))
	require.NoError(t, err)
	assert.Equal(t, int64(3000), result.Invoice.Amount)

	bookings, err := env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID:  result.Invoice.ID,
		PaidAmount: 1500,
	})
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, models.PaymentHalfPaid, bookings[0].PaymentStatus)
	assert.Equal(t, int64(1500), bookings[0].PaidAmount)
	assert.Equal(t, int64(1500), bookings[0].PendingAmount)
	assert.True(t, bookings[0].AmountsConsistent())
}

func TestAmountMismatchRejected(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	result, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.NoError(t, err)

	_, err = env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID:  result.Invoice.ID,
		PaidAmount: 777,
	})
	var amountErr *AmountError
	require.ErrorAs(t, err, &amountErr)
	assert.Equal(t, int64(2000), amountErr.Full)
	assert.Equal(t, int64(1000), amountErr.Half)

	// The draft survives a bad amount; a corrected callback still works.
	bookings, err := env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID: result.Invoice.ID, PaidAmount: 2000,
	})
	require.NoError(t, err)
	assert.Len(t, bookings, 1)
}

func TestCompetingInitiate(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	_, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.NoError(t, err)

	_, err = env.engine.Initiate(ctx, roomRequest(7, 10, 12))
	assert.ErrorIs(t, err, database.ErrAlreadyHeld)
}

func TestCallbackAfterExpiry(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	result, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.NoError(t, err)

	env.clock.Advance(5 * time.Minute)

	_, err = env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID:  result.Invoice.ID,
		PaidAmount: 2000,
	})
	var expiredErr *HoldExpiredError
	require.ErrorAs(t, err, &expiredErr)
	assert.Equal(t, result.Invoice.ID, expiredErr.InvoiceID)

	// No booking was created and the resource is free again.
	r, err := env.db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsBooked)
	assert.False(t, r.OnHold)
}

func TestCallbackAfterHoldLostToAnotherMember(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	result, err := env.engine.Initiate(ctx, roomRequest(1, 10, 12))
	require.NoError(t, err)

	// The hold lapses and another member grabs the room before the
	// first member's payment callback lands.
	env.clock.Advance(5 * time.Minute)
	now := env.clock.Now()
	require.NoError(t, env.db.PlaceHold(ctx, 1, "member:2", now.Add(3*time.Minute), now))

	_, err = env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID:  result.Invoice.ID,
		PaidAmount: 2000,
	})
	var expiredErr *HoldExpiredError
	require.ErrorAs(t, err, &expiredErr)

	// The second member's hold is untouched and no booking exists.
	r, err := env.db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsBooked)
	assert.True(t, r.OnHold)
	assert.Equal(t, "member:2", r.HoldBy)
}

func TestInitiateConflict(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	result, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.NoError(t, err)
	_, err = env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID: result.Invoice.ID, PaidAmount: 2000,
	})
	require.NoError(t, err)

	_, err = env.engine.Initiate(ctx, roomRequest(7, 11, 13))
	var conflictErr *ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, models.ConflictBooked, conflictErr.Conflict.Kind)
	assert.Equal(t, "2026-09-11", conflictErr.Conflict.Day)
}

func TestInitiatePastDate(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))

	ci, co := day(10), day(12)
	env.clock.Set(time.Date(2026, 9, 20, 12, 0, 0, 0, time.UTC))

	_, err := env.engine.Initiate(context.Background(), &InitiateRequest{
		ResourceIDs: []int64{1},
		Extent:      models.Extent{Type: models.ResourceRoom, CheckIn: &ci, CheckOut: &co},
		MemberID:    42, MemberName: "Alice",
	})
	assert.ErrorIs(t, err, ErrPastDate)
}

func TestMultiLawnAutoSelect(t *testing.T) {
	env := setup(t)
	env.seed(t, lawn(1), lawn(2), lawn(3))
	ctx := context.Background()

	d := day(10)
	result, err := env.engine.Initiate(ctx, &InitiateRequest{
		Units:      2,
		Extent:     models.Extent{Type: models.ResourceLawn, Date: &d, Slot: models.SlotNight},
		MemberID:   42,
		MemberName: "Alice",
		Guests:     300,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, result.Draft.ResourceIDs, "lowest ids win")
	assert.Equal(t, int64(4000), result.Invoice.Amount)

	bookings, err := env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID: result.Invoice.ID, PaidAmount: 4000,
	})
	require.NoError(t, err)
	require.Len(t, bookings, 2)

	var total int64
	for _, b := range bookings {
		total += b.TotalPrice
		assert.True(t, b.AmountsConsistent())
	}
	assert.Equal(t, int64(4000), total)
}

func TestMultiLawnInsufficientUnits(t *testing.T) {
	env := setup(t)
	env.seed(t, lawn(1), lawn(2))
	ctx := context.Background()

	// Lawn 1 is taken for the night slot.
	d := day(10)
	first, err := env.engine.Initiate(ctx, &InitiateRequest{
		ResourceIDs: []int64{1},
		Extent:      models.Extent{Type: models.ResourceLawn, Date: &d, Slot: models.SlotNight},
		MemberID:    7, MemberName: "Bob", Guests: 100,
	})
	require.NoError(t, err)
	_, err = env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID: first.Invoice.ID, PaidAmount: first.Invoice.Amount,
	})
	require.NoError(t, err)

	_, err = env.engine.Initiate(ctx, &InitiateRequest{
		Units:    2,
		Extent:   models.Extent{Type: models.ResourceLawn, Date: &d, Slot: models.SlotNight},
		MemberID: 42, MemberName: "Alice", Guests: 300,
	})
	assert.ErrorIs(t, err, ErrInsufficientUnits)

	// Nothing may stay held after the failed attempt.
	r2, err := env.db.GetResource(ctx, 2)
	require.NoError(t, err)
	assert.False(t, r2.OnHold)
}

func TestGatewayFailureReleasesHolds(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	env.gateway.fail = true
	ctx := context.Background()

	_, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.Error(t, err)

	r, err := env.db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.OnHold, "failed invoice must not leave the resource held")
}

func TestAbandon(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	result, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.NoError(t, err)

	require.NoError(t, env.engine.Abandon(ctx, result.Invoice.ID))

	r, err := env.db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.OnHold)

	_, err = env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID: result.Invoice.ID, PaidAmount: 2000,
	})
	assert.ErrorIs(t, err, ErrUnknownInvoice)
}

func TestCancel(t *testing.T) {
	env := setup(t)
	env.seed(t, room(1))
	ctx := context.Background()

	result, err := env.engine.Initiate(ctx, roomRequest(42, 10, 12))
	require.NoError(t, err)
	bookings, err := env.engine.ConfirmPayment(ctx, &models.PaymentCallback{
		InvoiceID: result.Invoice.ID, PaidAmount: 2000,
	})
	require.NoError(t, err)

	var canceled []events.BookingEventPayload
	env.bus.Subscribe(events.EventBookingCanceled, func(ev *events.Event) error {
		var p events.BookingEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		canceled = append(canceled, p)
		return nil
	})

	booking, err := env.engine.Cancel(ctx, bookings[0].ID)
	require.NoError(t, err)
	assert.Equal(t, bookings[0].ID, booking.ID)

	r, err := env.db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r.IsBooked)

	require.Len(t, canceled, 1)

	_, err = env.engine.Cancel(ctx, bookings[0].ID)
	assert.ErrorIs(t, err, database.ErrNotFound)
}
