package repository

import (
	"context"
	"sync"
	"time"

	"pavilion/internal/models"
)

type MemoryDraftRepository struct {
	drafts sync.Map
}

type draftEntry struct {
	draft     *models.BookingDraft
	expiresAt time.Time
}

func NewMemoryDraftRepository() *MemoryDraftRepository {
	return &MemoryDraftRepository{}
}

func (r *MemoryDraftRepository) SaveDraft(ctx context.Context, draft *models.BookingDraft, ttl time.Duration) error {
	r.drafts.Store(draft.InvoiceID, &draftEntry{
		draft:     draft,
		expiresAt: time.Now().Add(ttl),
	})
	return nil
}

func (r *MemoryDraftRepository) GetDraft(ctx context.Context, invoiceID string) (*models.BookingDraft, error) {
	val, ok := r.drafts.Load(invoiceID)
	if !ok {
		return nil, nil
	}
	entry := val.(*draftEntry)
	if time.Now().After(entry.expiresAt) {
		r.drafts.Delete(invoiceID)
		return nil, nil
	}
	return entry.draft, nil
}

func (r *MemoryDraftRepository) DeleteDraft(ctx context.Context, invoiceID string) error {
	r.drafts.Delete(invoiceID)
	return nil
}
