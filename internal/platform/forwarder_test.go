package platform

import (
	"context"
	"sync"
	"testing"
	"time"

	"closer/internal/events"
	"closer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorderFunc func(ctx context.Context, metric models.PlatformMetric) error

func (f recorderFunc) RecordMetric(ctx context.Context, metric models.PlatformMetric) error {
	return f(ctx, metric)
}

func TestForwardEvents(t *testing.T) {
	bus := events.NewEventBus(nil)

	var mu sync.Mutex
	var got []models.PlatformMetric
	ForwardEvents(bus, recorderFunc(func(ctx context.Context, metric models.PlatformMetric) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, metric)
		return nil
	}), nil, time.Second)

	require.NoError(t, bus.PublishJSON(events.EventBookingStaked, events.BookingStakedPayload{
		Account: "0xabc", Nights: [][2]uint16{{2025, 10}, {2025, 11}}, Amount: "40",
	}))
	require.NoError(t, bus.PublishJSON(events.EventTokensPurchased, events.TokensPurchasedPayload{
		Account: "0xabc", Amount: "5", Cost: "1010",
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	byEvent := map[string]models.PlatformMetric{}
	for _, m := range got {
		byEvent[m.Event] = m
	}
	assert.Equal(t, int64(2), byEvent["booking_staked"].Point)
	assert.Equal(t, "40", byEvent["booking_staked"].Value)
	assert.Equal(t, "5", byEvent["tokens_purchased"].Value)
}

func TestForwardEvents_BadPayload(t *testing.T) {
	bus := events.NewEventBus(nil)
	ForwardEvents(bus, recorderFunc(func(ctx context.Context, metric models.PlatformMetric) error {
		t.Fatal("recorder must not be called")
		return nil
	}), nil, time.Second)

	failed := bus.Publish(&events.Event{Type: events.EventTokensPurchased, Payload: []byte("{")})
	assert.Equal(t, 1, failed)
}
