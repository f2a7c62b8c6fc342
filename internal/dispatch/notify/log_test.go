package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/example/ridedispatch/internal/dispatch/domain"
	"github.com/example/ridedispatch/internal/dispatch/notify"
)

func TestAppendAssignsMonotonicOffsets(t *testing.T) {
	log := notify.NewLog(0)
	first := log.Append(notify.Event{Type: notify.EventBookingCreated})
	second := log.Append(notify.Event{Type: notify.EventBookingConfirmed})
	require.EqualValues(t, 1, first.Offset)
	require.EqualValues(t, 2, second.Offset)
	require.EqualValues(t, 2, log.LastOffset())
}

func TestAwaitReplaysRetainedEvents(t *testing.T) {
	log := notify.NewLog(0)
	log.Append(notify.Event{Type: notify.EventBookingCreated})
	want := log.Append(notify.Event{Type: notify.EventBookingConfirmed})

	got, err := log.Await(context.Background(), 1, notify.MatchType(notify.EventBookingConfirmed), 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, want.Offset, got.Offset)
	require.Equal(t, notify.EventBookingConfirmed, got.Type)
}

func TestAwaitFromNowSkipsHistory(t *testing.T) {
	log := notify.NewLog(0)
	log.Append(notify.Event{Type: notify.EventBookingCreated})

	_, err := log.Await(context.Background(), notify.FromNow, nil, 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrTimeout)
}

func TestAwaitResolvesOnMatchingAppend(t *testing.T) {
	log := notify.NewLog(0)
	userID := uuid.New()

	type result struct {
		evt notify.Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		evt, err := log.Await(context.Background(), notify.FromNow, notify.MatchUserConfirmation(userID), 2*time.Second)
		done <- result{evt, err}
	}()

	// give the watcher time to register before appending
	time.Sleep(20 * time.Millisecond)
	log.Append(notify.Event{Type: notify.EventBookingConfirmed, Booking: domain.Booking{UserID: uuid.New()}})
	want := log.Append(notify.Event{Type: notify.EventBookingConfirmed, Booking: domain.Booking{UserID: userID}})

	select {
	case res := <-done:
		require.NoError(t, res.err)
		require.Equal(t, want.Offset, res.evt.Offset)
		require.Equal(t, userID, res.evt.Booking.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never resolved")
	}
}

func TestAwaitTimeout(t *testing.T) {
	log := notify.NewLog(0)
	start := time.Now()
	_, err := log.Await(context.Background(), notify.FromNow, nil, 30*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrTimeout)
	require.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAwaitContextCancellation(t *testing.T) {
	log := notify.NewLog(0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := log.Await(ctx, notify.FromNow, nil, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAwaitIsSingleShot(t *testing.T) {
	log := notify.NewLog(0)
	log.Append(notify.Event{Type: notify.EventBookingCreated})
	log.Append(notify.Event{Type: notify.EventBookingCreated})

	first, err := log.Await(context.Background(), 0, notify.MatchType(notify.EventBookingCreated), 10*time.Millisecond)
	require.NoError(t, err)
	require.EqualValues(t, 1, first.Offset)

	// resuming from the returned offset yields the next event, not the same one
	second, err := log.Await(context.Background(), first.Offset, notify.MatchType(notify.EventBookingCreated), 10*time.Millisecond)
	require.NoError(t, err)
	require.EqualValues(t, 2, second.Offset)
}

func TestRetentionTrimsOldestFirst(t *testing.T) {
	log := notify.NewLog(2)
	log.Append(notify.Event{Type: notify.EventBookingCreated})
	log.Append(notify.Event{Type: notify.EventBookingCreated})
	log.Append(notify.Event{Type: notify.EventBookingCreated})

	// offset 1 is trimmed; replay from 0 starts at offset 2
	evt, err := log.Await(context.Background(), 0, nil, 10*time.Millisecond)
	require.NoError(t, err)
	require.EqualValues(t, 2, evt.Offset)
	require.EqualValues(t, 3, log.LastOffset())
}
