package repository

import (
	"context"
	"sync/atomic"
	"time"

	"pavilion/internal/domain"
	"pavilion/internal/models"

	"github.com/rs/zerolog"
)

type FailoverDraftRepository struct {
	primary   domain.DraftRepository
	fallback  domain.DraftRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverDraftRepository(primary, fallback domain.DraftRepository, logger *zerolog.Logger) *FailoverDraftRepository {
	return &FailoverDraftRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverDraftRepository) SaveDraft(ctx context.Context, draft *models.BookingDraft, ttl time.Duration) error {
	if !r.isDown.Load() {
		err := r.primary.SaveDraft(ctx, draft, ttl)
		if err == nil {
			// Mirror into the fallback so a later redis outage cannot
			// orphan the in-flight draft.
			_ = r.fallback.SaveDraft(ctx, draft, ttl)
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary draft repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.SaveDraft(ctx, draft, ttl)
}

func (r *FailoverDraftRepository) GetDraft(ctx context.Context, invoiceID string) (*models.BookingDraft, error) {
	if !r.isDown.Load() {
		draft, err := r.primary.GetDraft(ctx, invoiceID)
		if err == nil {
			if draft != nil {
				return draft, nil
			}
			return r.fallback.GetDraft(ctx, invoiceID)
		}
		r.logger.Error().Err(err).Msg("Primary draft repository failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		draft, err := r.primary.GetDraft(ctx, invoiceID)
		if err == nil {
			r.isDown.Store(false)
			if draft != nil {
				return draft, nil
			}
			return r.fallback.GetDraft(ctx, invoiceID)
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.GetDraft(ctx, invoiceID)
}

func (r *FailoverDraftRepository) DeleteDraft(ctx context.Context, invoiceID string) error {
	var primaryErr error
	if !r.isDown.Load() {
		primaryErr = r.primary.DeleteDraft(ctx, invoiceID)
		if primaryErr != nil {
			r.logger.Error().Err(primaryErr).Msg("Primary draft repository failed, falling back to memory")
			r.isDown.Store(true)
			r.lastCheck = time.Now()
		}
	}

	return r.fallback.DeleteDraft(ctx, invoiceID)
}
