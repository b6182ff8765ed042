// Package reconciler is the periodic repair loop keeping derived resource
// state truthful: it clears lapsed holds, flips out-of-service flags as
// maintenance windows start and end, and re-derives reserved flags from the
// reservation table. Correctness never depends on it running, since readers
// judge hold expiry themselves; it only keeps the stored rows tidy.
package reconciler

import (
	"context"
	"sync/atomic"
	"time"

	"pavilion/internal/calendar"
	"pavilion/internal/clock"
	"pavilion/internal/domain"
	"pavilion/internal/events"
	"pavilion/internal/metrics"
	"pavilion/internal/models"

	"github.com/rs/zerolog"
)

type Reconciler struct {
	repo     domain.Repository
	cal      *calendar.Calendar
	clock    clock.Clock
	bus      domain.EventPublisher
	interval time.Duration
	logger   zerolog.Logger
	running  atomic.Bool
}

func New(repo domain.Repository, cal *calendar.Calendar, clk clock.Clock, bus domain.EventPublisher, interval time.Duration, logger *zerolog.Logger) *Reconciler {
	if interval <= 0 {
		interval = models.DefaultSweepInterval
	}
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "reconciler").Logger()
	}
	return &Reconciler{
		repo:     repo,
		cal:      cal,
		clock:    clk,
		bus:      bus,
		interval: interval,
		logger:   log,
	}
}

// Start runs sweeps on the configured interval until the context is
// canceled. A sweep that overruns the interval simply causes the next tick
// to be skipped; two sweeps never run at once.
func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass. Row-level failures are logged and
// counted but never abort the rest of the pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn().Msg("sweep still in progress, skipping tick")
		return
	}
	defer r.running.Store(false)

	metrics.IncSweep()
	r.sweepExpiredHolds(ctx)
	r.sweepOutOfService(ctx)
	r.sweepReservedFlags(ctx)
}

// sweepExpiredHolds clears lapsed holds and announces each one, so a hold
// that dies without a payment callback still produces an expiry event.
func (r *Reconciler) sweepExpiredHolds(ctx context.Context) {
	cleared, err := r.repo.ClearExpiredHolds(ctx, r.clock.Now())
	if err != nil {
		metrics.IncSweepRowFailure()
		r.logger.Error().Err(err).Msg("failed to clear expired holds")
		return
	}
	for _, res := range cleared {
		r.logger.Info().Int64("resource_id", res.ID).Str("holder", res.HoldBy).
			Msg("expired hold cleared")
		r.bus.PublishJSON(events.EventHoldExpired, events.BookingEventPayload{
			ResourceID:   res.ID,
			ResourceName: res.Name,
			Reason:       "hold expired",
		})
	}
}

func (r *Reconciler) sweepOutOfService(ctx context.Context) {
	todayKey := r.cal.DayKey(r.clock.Now())

	due, err := r.repo.ListOutOfServiceDue(ctx, todayKey)
	if err != nil {
		metrics.IncSweepRowFailure()
		r.logger.Error().Err(err).Msg("failed to list out-of-service candidates")
	} else {
		for _, res := range due {
			if err := r.repo.MarkOutOfService(ctx, res.ID, res.Version); err != nil {
				// A concurrent writer bumped the version; the next sweep
				// retries with a fresh read.
				metrics.IncSweepRowFailure()
				r.logger.Warn().Err(err).Int64("resource_id", res.ID).
					Msg("failed to mark resource out of service")
				continue
			}
			r.logger.Info().Int64("resource_id", res.ID).Str("reason", res.OutReason).
				Msg("resource taken out of service")
			r.bus.PublishJSON(events.EventOutOfService, events.BookingEventPayload{
				ResourceID:   res.ID,
				ResourceName: res.Name,
				Day:          todayKey,
				Reason:       res.OutReason,
			})
		}
	}

	lapsed, err := r.repo.ListOutOfServiceLapsed(ctx, todayKey)
	if err != nil {
		metrics.IncSweepRowFailure()
		r.logger.Error().Err(err).Msg("failed to list lapsed out-of-service resources")
		return
	}
	for _, res := range lapsed {
		if err := r.repo.ClearOutOfService(ctx, res.ID, res.Version); err != nil {
			metrics.IncSweepRowFailure()
			r.logger.Warn().Err(err).Int64("resource_id", res.ID).
				Msg("failed to restore resource to service")
			continue
		}
		r.logger.Info().Int64("resource_id", res.ID).Msg("resource back in service")
		r.bus.PublishJSON(events.EventBackInService, events.BookingEventPayload{
			ResourceID:   res.ID,
			ResourceName: res.Name,
			Day:          todayKey,
		})
	}
}

// sweepReservedFlags re-derives is_reserved from the reservation table by
// set difference, so manually edited reservations converge within one sweep.
func (r *Reconciler) sweepReservedFlags(ctx context.Context) {
	todayKey := r.cal.DayKey(r.clock.Now())

	want, err := r.repo.ResourceIDsReservedOn(ctx, todayKey)
	if err != nil {
		metrics.IncSweepRowFailure()
		r.logger.Error().Err(err).Msg("failed to list reserved resource ids")
		return
	}
	have, err := r.repo.ListReservedFlagged(ctx)
	if err != nil {
		metrics.IncSweepRowFailure()
		r.logger.Error().Err(err).Msg("failed to list flagged resources")
		return
	}

	wantSet := make(map[int64]bool, len(want))
	for _, id := range want {
		wantSet[id] = true
	}
	haveSet := make(map[int64]bool, len(have))
	for _, id := range have {
		haveSet[id] = true
	}

	for _, id := range want {
		if haveSet[id] {
			continue
		}
		if err := r.repo.SetReservedFlag(ctx, id, true); err != nil {
			metrics.IncSweepRowFailure()
			r.logger.Warn().Err(err).Int64("resource_id", id).Msg("failed to set reserved flag")
		}
	}
	for _, id := range have {
		if wantSet[id] {
			continue
		}
		if err := r.repo.SetReservedFlag(ctx, id, false); err != nil {
			metrics.IncSweepRowFailure()
			r.logger.Warn().Err(err).Int64("resource_id", id).Msg("failed to clear reserved flag")
		}
	}
}
