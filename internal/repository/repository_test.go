package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"pavilion/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDraft(invoiceID string) *models.BookingDraft {
	return &models.BookingDraft{
		DraftID:     "draft-1",
		InvoiceID:   invoiceID,
		HolderID:    "member-42",
		ResourceIDs: []int64{1, 2},
		Type:        models.ResourceLawn,
		MemberID:    42,
		MemberName:  "Alice",
		TotalPrice:  4500,
		HoldExpiry:  time.Now().Add(3 * time.Minute),
	}
}

func TestRedisDraftRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisDraftRepository(client)
	ctx := context.Background()

	t.Run("SaveAndGetDraft", func(t *testing.T) {
		draft := testDraft("inv-1")
		require.NoError(t, repo.SaveDraft(ctx, draft, time.Hour))

		got, err := repo.GetDraft(ctx, "inv-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, draft.HolderID, got.HolderID)
		assert.Equal(t, draft.ResourceIDs, got.ResourceIDs)
		assert.Equal(t, draft.TotalPrice, got.TotalPrice)
	})

	t.Run("GetNonExistentDraft", func(t *testing.T) {
		got, err := repo.GetDraft(ctx, "inv-unknown")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DraftExpires", func(t *testing.T) {
		draft := testDraft("inv-2")
		require.NoError(t, repo.SaveDraft(ctx, draft, time.Minute))

		s.FastForward(2 * time.Minute)

		got, err := repo.GetDraft(ctx, "inv-2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("DeleteDraft", func(t *testing.T) {
		draft := testDraft("inv-3")
		require.NoError(t, repo.SaveDraft(ctx, draft, time.Hour))
		require.NoError(t, repo.DeleteDraft(ctx, "inv-3"))

		got, err := repo.GetDraft(ctx, "inv-3")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestMemoryDraftRepository(t *testing.T) {
	repo := NewMemoryDraftRepository()
	ctx := context.Background()

	draft := testDraft("inv-1")
	require.NoError(t, repo.SaveDraft(ctx, draft, time.Hour))

	got, err := repo.GetDraft(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, draft.DraftID, got.DraftID)

	require.NoError(t, repo.DeleteDraft(ctx, "inv-1"))
	got, err = repo.GetDraft(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryDraftRepositoryTTL(t *testing.T) {
	repo := NewMemoryDraftRepository()
	ctx := context.Background()

	draft := testDraft("inv-ttl")
	require.NoError(t, repo.SaveDraft(ctx, draft, -time.Second))

	got, err := repo.GetDraft(ctx, "inv-ttl")
	require.NoError(t, err)
	assert.Nil(t, got, "expired draft must be invisible at read time")
}

type failingDraftRepository struct{}

func (f *failingDraftRepository) SaveDraft(ctx context.Context, draft *models.BookingDraft, ttl time.Duration) error {
	return fmt.Errorf("connection refused")
}

func (f *failingDraftRepository) GetDraft(ctx context.Context, invoiceID string) (*models.BookingDraft, error) {
	return nil, fmt.Errorf("connection refused")
}

func (f *failingDraftRepository) DeleteDraft(ctx context.Context, invoiceID string) error {
	return fmt.Errorf("connection refused")
}

func TestFailoverDraftRepository(t *testing.T) {
	logger := zerolog.New(os.Stdout)
	fallback := NewMemoryDraftRepository()
	repo := NewFailoverDraftRepository(&failingDraftRepository{}, fallback, &logger)
	ctx := context.Background()

	draft := testDraft("inv-1")
	require.NoError(t, repo.SaveDraft(ctx, draft, time.Hour))

	got, err := repo.GetDraft(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, draft.InvoiceID, got.InvoiceID)
}

func TestFailoverMirrorsWrites(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	logger := zerolog.New(os.Stdout)
	primary := NewRedisDraftRepository(client)
	fallback := NewMemoryDraftRepository()
	repo := NewFailoverDraftRepository(primary, fallback, &logger)
	ctx := context.Background()

	draft := testDraft("inv-9")
	require.NoError(t, repo.SaveDraft(ctx, draft, time.Hour))

	// Redis goes away after the write; the mirrored copy still serves reads.
	s.Close()

	got, err := repo.GetDraft(ctx, "inv-9")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "inv-9", got.InvoiceID)
}
