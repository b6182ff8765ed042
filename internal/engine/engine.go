// Package engine drives the booking lifecycle: conflict check, hold
// placement, invoice creation, and the atomic conversion of held resources
// into bookings when the payment callback arrives. Nothing outside this
// package finalizes or cancels a booking.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pavilion/internal/availability"
	"pavilion/internal/calendar"
	"pavilion/internal/clock"
	"pavilion/internal/database"
	"pavilion/internal/domain"
	"pavilion/internal/events"
	"pavilion/internal/hold"
	"pavilion/internal/metrics"
	"pavilion/internal/models"
	"pavilion/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Engine struct {
	repo     domain.Repository
	drafts   domain.DraftRepository
	avail    *availability.Service
	holds    *hold.Manager
	pricing  *pricing.Service
	gateway  domain.PaymentGateway
	bus      domain.EventPublisher
	worker   domain.SyncWorker
	cal      *calendar.Calendar
	clock    clock.Clock
	draftTTL time.Duration
	logger   zerolog.Logger
}

type Config struct {
	Repo     domain.Repository
	Drafts   domain.DraftRepository
	Avail    *availability.Service
	Holds    *hold.Manager
	Pricing  *pricing.Service
	Gateway  domain.PaymentGateway
	Bus      domain.EventPublisher
	Worker   domain.SyncWorker
	Calendar *calendar.Calendar
	Clock    clock.Clock
	DraftTTL time.Duration
	Logger   *zerolog.Logger
}

func New(cfg Config) *Engine {
	ttl := cfg.DraftTTL
	if ttl <= 0 {
		ttl = models.DefaultDraftTTL
	}
	var log zerolog.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "engine").Logger()
	}
	return &Engine{
		repo:     cfg.Repo,
		drafts:   cfg.Drafts,
		avail:    cfg.Avail,
		holds:    cfg.Holds,
		pricing:  cfg.Pricing,
		gateway:  cfg.Gateway,
		bus:      cfg.Bus,
		worker:   cfg.Worker,
		cal:      cfg.Calendar,
		clock:    cfg.Clock,
		draftTTL: ttl,
		logger:   log,
	}
}

// InitiateRequest describes a member's booking attempt. Either ResourceIDs
// names the units explicitly, or Units asks for that many free units of the
// extent's type, assigned in catalog order.
type InitiateRequest struct {
	ResourceIDs []int64
	Units       int
	Extent      models.Extent
	MemberID    int64
	MemberName  string
	IsGuest     bool
	Guests      int64
}

// InitiateResult carries the invoice the member must now settle and the
// draft that the payment callback will convert.
type InitiateResult struct {
	Invoice *models.Invoice
	Draft   *models.BookingDraft
}

// Initiate runs the booking attempt up to the payment boundary: validate,
// conflict-check, hold every requested unit, invoice, and park the draft
// under the invoice id. Any failure after holds are placed releases them
// before returning.
func (e *Engine) Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error) {
	if err := e.avail.ValidateExtent(req.Extent); err != nil {
		return nil, err
	}
	if err := e.rejectPast(req.Extent); err != nil {
		return nil, err
	}

	holder := fmt.Sprintf("member:%d", req.MemberID)

	resources, err := e.resolveResources(ctx, req, holder)
	if err != nil {
		return nil, err
	}

	// Capacity is judged against the combined selection before any pricing.
	total, err := e.pricing.Quote(resources, req.Extent, req.IsGuest, req.Guests)
	if err != nil {
		return nil, err
	}
	var resourceIDs []int64
	var unitPrices []int64
	for _, r := range resources {
		price, err := e.pricing.UnitQuote(r, req.Extent, req.IsGuest)
		if err != nil {
			return nil, err
		}
		resourceIDs = append(resourceIDs, r.ID)
		unitPrices = append(unitPrices, price)
	}

	expiry, err := e.holds.PlaceAll(ctx, resourceIDs, holder)
	if err != nil {
		if errors.Is(err, database.ErrAlreadyHeld) {
			metrics.IncConflict(string(models.ConflictAlreadyHeld))
		}
		return nil, err
	}

	draft := &models.BookingDraft{
		DraftID:     uuid.NewString(),
		HolderID:    holder,
		ResourceIDs: resourceIDs,
		Type:        req.Extent.Type,
		MemberID:    req.MemberID,
		MemberName:  req.MemberName,
		IsGuest:     req.IsGuest,
		CheckIn:     req.Extent.CheckIn,
		CheckOut:    req.Extent.CheckOut,
		Date:        req.Extent.Date,
		Slot:        req.Extent.Slot,
		StartHour:   req.Extent.StartHour,
		Guests:      req.Guests,
		UnitPrices:  unitPrices,
		TotalPrice:  total,
		HoldExpiry:  expiry,
		CreatedAt:   e.clock.Now(),
	}

	invoice, err := e.gateway.CreateInvoice(ctx, &models.InvoiceRequest{
		Reference:   draft.DraftID,
		MemberID:    req.MemberID,
		MemberName:  req.MemberName,
		Description: e.describeDraft(draft, resources),
		Amount:      total,
		AllowHalf:   true,
		ExpiresAt:   expiry,
	})
	if err != nil {
		e.holds.ReleaseAll(ctx, resourceIDs, holder)
		return nil, fmt.Errorf("invoice creation failed: %w", err)
	}

	draft.InvoiceID = invoice.ID
	if err := e.drafts.SaveDraft(ctx, draft, e.draftTTL); err != nil {
		e.holds.ReleaseAll(ctx, resourceIDs, holder)
		return nil, fmt.Errorf("failed to save booking draft: %w", err)
	}

	for _, id := range resourceIDs {
		e.bus.PublishJSON(events.EventHoldPlaced, events.BookingEventPayload{
			InvoiceID:  invoice.ID,
			ResourceID: id,
			MemberID:   req.MemberID,
			MemberName: req.MemberName,
			Amount:     total,
		})
	}

	e.logger.Info().Str("invoice_id", invoice.ID).Ints64("resources", resourceIDs).
		Int64("total", total).Time("hold_expiry", expiry).Msg("booking initiated")
	return &InitiateResult{Invoice: invoice, Draft: draft}, nil
}

// ConfirmPayment converts a draft into bookings after the gateway reports
// the invoice settled. The conversion re-verifies the holds at the current
// instant: a callback that raced past the expiry gets HoldExpiredError and
// creates nothing.
func (e *Engine) ConfirmPayment(ctx context.Context, cb *models.PaymentCallback) ([]*models.Booking, error) {
	draft, err := e.drafts.GetDraft(ctx, cb.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}
	if draft == nil {
		return nil, ErrUnknownInvoice
	}

	now := e.clock.Now()
	if !draft.HoldExpiry.After(now) {
		e.abandonDraft(ctx, draft, "hold expired before payment")
		metrics.IncBooking("expired")
		return nil, &HoldExpiredError{InvoiceID: cb.InvoiceID, Expiry: draft.HoldExpiry}
	}
	for _, id := range draft.ResourceIDs {
		r, err := e.repo.GetResource(ctx, id)
		if err != nil {
			return nil, err
		}
		if !r.HoldActive(now) || r.HoldBy != draft.HolderID {
			e.abandonDraft(ctx, draft, "hold lost before payment")
			metrics.IncBooking("expired")
			return nil, &HoldExpiredError{InvoiceID: cb.InvoiceID, Expiry: draft.HoldExpiry}
		}
	}

	paidPlan, status, err := e.allocatePayment(draft, cb.PaidAmount)
	if err != nil {
		return nil, err
	}

	bookings, vouchers, err := e.buildBookings(ctx, draft, paidPlan, status)
	if err != nil {
		return nil, err
	}

	// The finalize flip re-checks hold ownership inside the transaction, so
	// a hold stolen between the verify above and the commit surfaces here
	// instead of silently clearing the thief's hold.
	if err := e.repo.FinalizeBookings(ctx, draft.HolderID, now, bookings, vouchers); err != nil {
		if errors.Is(err, database.ErrAlreadyHeld) {
			e.abandonDraft(ctx, draft, "hold lost before payment")
			metrics.IncBooking("expired")
			return nil, &HoldExpiredError{InvoiceID: cb.InvoiceID, Expiry: draft.HoldExpiry}
		}
		metrics.IncBooking("failed")
		return nil, err
	}
	metrics.IncBooking("confirmed")

	if err := e.drafts.DeleteDraft(ctx, cb.InvoiceID); err != nil {
		e.logger.Error().Err(err).Str("invoice_id", cb.InvoiceID).Msg("failed to delete draft after finalize")
	}

	for _, b := range bookings {
		e.bus.PublishJSON(events.EventBookingConfirmed, events.BookingEventPayload{
			BookingID:    b.ID,
			InvoiceID:    cb.InvoiceID,
			ResourceID:   b.ResourceID,
			ResourceName: b.ResourceName,
			MemberID:     b.MemberID,
			MemberName:   b.MemberName,
			Status:       string(b.PaymentStatus),
			Amount:       b.TotalPrice,
		})
		if e.worker != nil {
			if err := e.worker.EnqueueTask(ctx, models.SyncUpsert, b.ID, b); err != nil {
				e.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("failed to enqueue ledger sync")
			}
		}
	}

	e.logger.Info().Str("invoice_id", cb.InvoiceID).Int("bookings", len(bookings)).
		Str("status", string(status)).Msg("payment confirmed")
	return bookings, nil
}

// Cancel removes a booking and frees its resource in one transaction.
func (e *Engine) Cancel(ctx context.Context, bookingID int64) (*models.Booking, error) {
	booking, err := e.repo.CancelBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	metrics.IncBooking("canceled")

	e.bus.PublishJSON(events.EventBookingCanceled, events.BookingEventPayload{
		BookingID:    booking.ID,
		ResourceID:   booking.ResourceID,
		ResourceName: booking.ResourceName,
		MemberID:     booking.MemberID,
		MemberName:   booking.MemberName,
	})
	if e.worker != nil {
		if err := e.worker.EnqueueTask(ctx, models.SyncDelete, booking.ID, booking); err != nil {
			e.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("failed to enqueue ledger sync")
		}
	}

	e.logger.Info().Int64("booking_id", bookingID).Msg("booking canceled")
	return booking, nil
}

// Abandon releases the holds of an unpaid draft before its expiry, for
// members who back out of the payment flow.
func (e *Engine) Abandon(ctx context.Context, invoiceID string) error {
	draft, err := e.drafts.GetDraft(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("failed to load draft: %w", err)
	}
	if draft == nil {
		return ErrUnknownInvoice
	}
	e.abandonDraft(ctx, draft, "abandoned by member")
	return nil
}

func (e *Engine) abandonDraft(ctx context.Context, draft *models.BookingDraft, reason string) {
	e.holds.ReleaseAll(ctx, draft.ResourceIDs, draft.HolderID)
	if err := e.drafts.DeleteDraft(ctx, draft.InvoiceID); err != nil {
		e.logger.Error().Err(err).Str("invoice_id", draft.InvoiceID).Msg("failed to delete draft")
	}
	for _, id := range draft.ResourceIDs {
		e.bus.PublishJSON(events.EventHoldExpired, events.BookingEventPayload{
			InvoiceID:  draft.InvoiceID,
			ResourceID: id,
			MemberID:   draft.MemberID,
			Reason:     reason,
		})
	}
}

func (e *Engine) rejectPast(extent models.Extent) error {
	today := e.cal.DayKey(e.clock.Now())
	var first time.Time
	if extent.Type == models.ResourceRoom {
		first = *extent.CheckIn
	} else {
		first = *extent.Date
	}
	if e.cal.DayKey(first) < today {
		return ErrPastDate
	}
	return nil
}

// resolveResources turns the request into concrete catalog rows. Explicit
// ids are conflict-checked as given; a Units request walks the catalog in
// order and takes the first free units.
func (e *Engine) resolveResources(ctx context.Context, req *InitiateRequest, holder string) ([]*models.Resource, error) {
	if len(req.ResourceIDs) > 0 {
		var resources []*models.Resource
		for _, id := range req.ResourceIDs {
			r, err := e.checkResource(ctx, id, req.Extent, holder)
			if err != nil {
				return nil, err
			}
			resources = append(resources, r)
		}
		return resources, nil
	}

	units := req.Units
	if units <= 0 {
		units = 1
	}
	candidates, err := e.repo.ListResourcesByType(ctx, req.Extent.Type)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	var resources []*models.Resource
	for _, r := range candidates {
		if len(resources) == units {
			break
		}
		if !r.IsActive || r.HeldByOther(holder, now) {
			continue
		}
		conflict, err := e.avail.CheckConflicts(ctx, r.ID, req.Extent, 0)
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			continue
		}
		resources = append(resources, r)
	}
	if len(resources) < units {
		return nil, fmt.Errorf("%w: wanted %d, found %d", ErrInsufficientUnits, units, len(resources))
	}
	return resources, nil
}

func (e *Engine) checkResource(ctx context.Context, id int64, extent models.Extent, holder string) (*models.Resource, error) {
	r, err := e.repo.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.HeldByOther(holder, e.clock.Now()) {
		metrics.IncConflict(string(models.ConflictAlreadyHeld))
		return nil, database.ErrAlreadyHeld
	}
	conflict, err := e.avail.CheckConflicts(ctx, id, extent, 0)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		metrics.IncConflict(string(conflict.Kind))
		return nil, &ConflictError{Conflict: conflict}
	}
	return r, nil
}

// allocatePayment maps the callback amount onto per-unit paid amounts.
// Exactly the full total or the rounded half is accepted; anything else is
// an AmountError.
func (e *Engine) allocatePayment(draft *models.BookingDraft, paid int64) ([]int64, models.PaymentStatus, error) {
	half, _ := pricing.HalfOf(draft.TotalPrice)

	switch paid {
	case draft.TotalPrice:
		return append([]int64(nil), draft.UnitPrices...), models.PaymentPaid, nil
	case half:
		plan := make([]int64, len(draft.UnitPrices))
		var allocated int64
		for i, price := range draft.UnitPrices {
			plan[i], _ = pricing.HalfOf(price)
			allocated += plan[i]
		}
		// Rounding drift lands on the last unit so the plan sums to paid.
		plan[len(plan)-1] += paid - allocated
		return plan, models.PaymentHalfPaid, nil
	default:
		return nil, "", &AmountError{Got: paid, Full: draft.TotalPrice, Half: half}
	}
}

func (e *Engine) buildBookings(ctx context.Context, draft *models.BookingDraft, paidPlan []int64, status models.PaymentStatus) ([]*models.Booking, []*models.PaymentVoucher, error) {
	voucherType := models.VoucherFullPayment
	if status == models.PaymentHalfPaid {
		voucherType = models.VoucherHalfPayment
	}

	var bookings []*models.Booking
	var vouchers []*models.PaymentVoucher
	for i, id := range draft.ResourceIDs {
		r, err := e.repo.GetResource(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		b := &models.Booking{
			ResourceID:    id,
			ResourceType:  draft.Type,
			ResourceName:  r.Name,
			MemberID:      draft.MemberID,
			MemberName:    draft.MemberName,
			IsGuest:       draft.IsGuest,
			CheckIn:       draft.CheckIn,
			CheckOut:      draft.CheckOut,
			Date:          draft.Date,
			Slot:          draft.Slot,
			StartHour:     draft.StartHour,
			Guests:        draft.Guests,
			TotalPrice:    draft.UnitPrices[i],
			PaidAmount:    paidPlan[i],
			PendingAmount: draft.UnitPrices[i] - paidPlan[i],
			PaymentStatus: status,
		}
		bookings = append(bookings, b)
		vouchers = append(vouchers, &models.PaymentVoucher{
			ID:     uuid.NewString(),
			Type:   voucherType,
			Amount: paidPlan[i],
		})
	}
	return bookings, vouchers, nil
}

func (e *Engine) describeDraft(draft *models.BookingDraft, resources []*models.Resource) string {
	if len(resources) == 1 {
		return fmt.Sprintf("%s booking: %s", draft.Type, resources[0].Name)
	}
	return fmt.Sprintf("%s booking: %d units", draft.Type, len(resources))
}
