package reconciler

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"pavilion/internal/calendar"
	"pavilion/internal/clock"
	"pavilion/internal/database"
	"pavilion/internal/events"
	"pavilion/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Reconciler, *database.DB, *clock.Fixed, *events.EventBus) {
	logger := zerolog.New(os.Stdout)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cal, err := calendar.New("UTC")
	require.NoError(t, err)

	clk := clock.NewFixed(time.Date(2026, 9, 10, 12, 0, 0, 0, time.UTC))
	bus := events.NewEventBus()
	return New(db, cal, clk, bus, 10*time.Second, &logger), db, clk, bus
}

func seed(t *testing.T, db *database.DB, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		err := db.UpsertResources(context.Background(), []models.Resource{{
			ID: id, Type: models.ResourceRoom, Name: "Room", MemberPrice: 1000, IsActive: true,
		}})
		require.NoError(t, err)
	}
}

func TestSweepClearsExpiredHolds(t *testing.T) {
	rec, db, clk, bus := setup(t)
	ctx := context.Background()
	seed(t, db, 1, 2)

	var expired []events.BookingEventPayload
	bus.Subscribe(events.EventHoldExpired, func(e *events.Event) error {
		var p events.BookingEventPayload
		require.NoError(t, json.Unmarshal(e.Payload, &p))
		expired = append(expired, p)
		return nil
	})

	now := clk.Now()
	require.NoError(t, db.PlaceHold(ctx, 1, "alice", now.Add(time.Minute), now))
	require.NoError(t, db.PlaceHold(ctx, 2, "bob", now.Add(time.Hour), now))

	clk.Advance(2 * time.Minute)
	rec.Sweep(ctx)

	r1, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r1.OnHold, "expired hold swept")

	r2, err := db.GetResource(ctx, 2)
	require.NoError(t, err)
	assert.True(t, r2.OnHold, "live hold untouched")

	// The sweep announces the lapsed hold even though no payment callback
	// ever arrived for it.
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].ResourceID)
	assert.Equal(t, "Room", expired[0].ResourceName)

	// Nothing left to announce on the next pass.
	rec.Sweep(ctx)
	assert.Len(t, expired, 1)
}

func TestSweepOutOfServiceTransitions(t *testing.T) {
	rec, db, clk, bus := setup(t)
	ctx := context.Background()
	seed(t, db, 1, 2)

	var outEvents, backEvents int
	bus.Subscribe(events.EventOutOfService, func(*events.Event) error { outEvents++; return nil })
	bus.Subscribe(events.EventBackInService, func(*events.Event) error { backEvents++; return nil })

	today := clk.Now()
	require.NoError(t, db.ScheduleOutOfService(ctx, 1, today, today.AddDate(0, 0, 1), "repairs"))

	rec.Sweep(ctx)

	r1, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r1.IsOutOfService)
	assert.False(t, r1.IsActive)
	assert.Equal(t, 1, outEvents)

	// A second sweep is idempotent.
	rec.Sweep(ctx)
	assert.Equal(t, 1, outEvents)

	// Window lapses two days later; the resource comes back.
	clk.Advance(48 * time.Hour)
	rec.Sweep(ctx)

	r1, err = db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r1.IsOutOfService)
	assert.True(t, r1.IsActive)
	assert.Nil(t, r1.OutFrom)
	assert.Equal(t, 1, backEvents)
}

func TestSweepReservedFlags(t *testing.T) {
	rec, db, clk, _ := setup(t)
	ctx := context.Background()
	seed(t, db, 1, 2)

	today := clk.Now()
	res := &models.Reservation{
		ResourceID: 1, ResourceType: models.ResourceRoom,
		ReservedFrom: today, ReservedTo: today.AddDate(0, 0, 1),
	}
	require.NoError(t, db.CreateReservation(ctx, res))
	// Resource 2 carries a stale flag with no backing reservation.
	require.NoError(t, db.SetReservedFlag(ctx, 2, true))

	rec.Sweep(ctx)

	r1, err := db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.True(t, r1.IsReserved)

	r2, err := db.GetResource(ctx, 2)
	require.NoError(t, err)
	assert.False(t, r2.IsReserved, "stale flag cleared by set difference")

	// Reservation removed: flag converges back within one sweep.
	require.NoError(t, db.DeleteReservation(ctx, res.ID))
	rec.Sweep(ctx)

	r1, err = db.GetResource(ctx, 1)
	require.NoError(t, err)
	assert.False(t, r1.IsReserved)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	rec, _, _, _ := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop on context cancel")
	}
}
