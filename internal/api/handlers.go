package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"pavilion/internal/database"
	"pavilion/internal/engine"
	"pavilion/internal/gateway"
	"pavilion/internal/metrics"
	"pavilion/internal/models"
	"pavilion/internal/pricing"
)

func (s *HTTPServer) handleResources(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("resources")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resources, err := s.repo.ListResources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list resources")
		return
	}
	sort.Slice(resources, func(i, j int) bool {
		if resources[i].SortOrder == resources[j].SortOrder {
			return resources[i].ID < resources[j].ID
		}
		return resources[i].SortOrder < resources[j].SortOrder
	})

	writeJSON(w, http.StatusOK, map[string]any{"resources": resources})
}

// handleResourceByID routes /api/v1/resources/{id}/out-of-service.
func (s *HTTPServer) handleResourceByID(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("resources")
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/resources/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "out-of-service" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid resource id")
		return
	}

	var body struct {
		From   string `json:"from"`
		To     string `json:"to"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	from, err := s.cal.ParseDay(body.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := s.cal.ParseDay(body.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to is before from")
		return
	}

	if err := s.repo.ScheduleOutOfService(r.Context(), id, from, to, body.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"resource_id": id,
		"from":        body.From,
		"to":          body.To,
	})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/availability/"
	idStr := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, prefix))
	if idStr == "" || strings.Contains(idStr, "/") {
		writeError(w, http.StatusBadRequest, "resource id is required")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid resource id")
		return
	}

	from, to, err := s.parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	days, err := s.avail.ForRange(r.Context(), id, from, to)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resource_id": id,
		"days":        days,
	})
}

type bookingRequest struct {
	ResourceIDs []int64 `json:"resource_ids,omitempty"`
	Units       int     `json:"units,omitempty"`
	Type        string  `json:"type"`
	CheckIn     string  `json:"check_in,omitempty"`
	CheckOut    string  `json:"check_out,omitempty"`
	Date        string  `json:"date,omitempty"`
	Slot        string  `json:"slot,omitempty"`
	StartHour   int     `json:"start_hour,omitempty"`
	MemberID    int64   `json:"member_id"`
	MemberName  string  `json:"member_name"`
	IsGuest     bool    `json:"is_guest,omitempty"`
	Guests      int64   `json:"guests,omitempty"`
}

func (s *HTTPServer) handleBookings(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body bookingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.MemberID <= 0 {
		writeError(w, http.StatusBadRequest, "member_id is required")
		return
	}

	req, err := s.buildInitiateRequest(&body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Initiate(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"invoice_id":   result.Invoice.ID,
		"amount":       result.Invoice.Amount,
		"expires_at":   result.Draft.HoldExpiry.Format(time.RFC3339),
		"resource_ids": result.Draft.ResourceIDs,
	})
}

func (s *HTTPServer) handleBookingByID(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings")
	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/bookings/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		booking, err := s.repo.GetBooking(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		vouchers, err := s.repo.GetVouchersForBooking(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"booking":  booking,
			"vouchers": vouchers,
		})
	case http.MethodDelete:
		booking, err := s.engine.Cancel(r.Context(), id)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"canceled": booking.ID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("payments")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var cb models.PaymentCallback
	if err := decodeJSON(r, &cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if cb.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id is required")
		return
	}

	bookings, err := s.engine.ConfirmPayment(r.Context(), &cb)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	ids := make([]int64, 0, len(bookings))
	for _, b := range bookings {
		ids = append(ids, b.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking_ids": ids,
		"status":      string(bookings[0].PaymentStatus),
	})
}

func (s *HTTPServer) handleHoldRelease(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("holds")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		InvoiceID string `json:"invoice_id"`
	}
	if err := decodeJSON(r, &body); err != nil || body.InvoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id is required")
		return
	}

	if err := s.engine.Abandon(r.Context(), body.InvoiceID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "exports are not configured")
		return
	}

	from, to, err := s.parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	path, err := s.exporter.ExportSchedule(r.Context(), from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=schedule.xlsx")
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	if dateStr := strings.TrimSpace(r.URL.Query().Get("date")); dateStr != "" {
		day, err := s.cal.ParseDay(dateStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return day, day, nil
	}
	fromStr := strings.TrimSpace(r.URL.Query().Get("from"))
	toStr := strings.TrimSpace(r.URL.Query().Get("to"))
	if fromStr == "" || toStr == "" {
		return time.Time{}, time.Time{}, fmt.Errorf("date or from and to are required")
	}
	from, err := s.cal.ParseDay(fromStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := s.cal.ParseDay(toStr)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to is before from")
	}
	return from, to, nil
}

func (s *HTTPServer) buildInitiateRequest(body *bookingRequest) (*engine.InitiateRequest, error) {
	typ := models.ResourceType(body.Type)
	extent := models.Extent{Type: typ, Slot: models.Slot(body.Slot), StartHour: body.StartHour}

	switch typ {
	case models.ResourceRoom:
		if body.CheckIn == "" || body.CheckOut == "" {
			return nil, fmt.Errorf("check_in and check_out are required for rooms")
		}
		checkIn, err := s.cal.ParseDay(body.CheckIn)
		if err != nil {
			return nil, err
		}
		checkOut, err := s.cal.ParseDay(body.CheckOut)
		if err != nil {
			return nil, err
		}
		extent.CheckIn = &checkIn
		extent.CheckOut = &checkOut
	case models.ResourceHall, models.ResourceLawn, models.ResourcePhotoshoot:
		if body.Date == "" {
			return nil, fmt.Errorf("date is required")
		}
		date, err := s.cal.ParseDay(body.Date)
		if err != nil {
			return nil, err
		}
		extent.Date = &date
	default:
		return nil, fmt.Errorf("unknown resource type %q", body.Type)
	}

	if err := s.avail.ValidateExtent(extent); err != nil {
		return nil, err
	}

	return &engine.InitiateRequest{
		ResourceIDs: body.ResourceIDs,
		Units:       body.Units,
		Extent:      extent,
		MemberID:    body.MemberID,
		MemberName:  body.MemberName,
		IsGuest:     body.IsGuest,
		Guests:      body.Guests,
	}, nil
}

// writeDomainError maps engine and storage errors onto HTTP statuses. The
// response body always carries the message under "error"; conflicts carry
// the structured conflict too.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	var conflictErr *engine.ConflictError
	var holdExpired *engine.HoldExpiredError
	var amountErr *engine.AmountError
	var capErr *pricing.CapacityError
	var gwErr *gateway.Error

	switch {
	case errors.As(err, &gwErr):
		writeError(w, http.StatusBadGateway, "payment gateway error")
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":    conflictErr.Error(),
			"conflict": conflictErr.Conflict,
		})
	case errors.Is(err, database.ErrAlreadyHeld),
		errors.Is(err, engine.ErrInsufficientUnits),
		errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &holdExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &amountErr), errors.As(err, &capErr):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, engine.ErrPastDate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound), errors.Is(err, engine.ErrUnknownInvoice):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrNotAvailable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}
