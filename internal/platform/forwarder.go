package platform

import (
	"context"
	"encoding/json"
	"time"

	"closer/internal/events"
	"closer/internal/models"

	"github.com/rs/zerolog"
)

// metricRecorder is the part of Client the forwarder needs.
type metricRecorder interface {
	RecordMetric(ctx context.Context, metric models.PlatformMetric) error
}

// ForwardEvents subscribes to completed on-chain actions and reports them as
// platform metrics. Delivery runs in the background and failures are only
// logged.
func ForwardEvents(bus *events.EventBus, recorder metricRecorder, logger *zerolog.Logger, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	send := func(metric models.PlatformMetric) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := recorder.RecordMetric(ctx, metric); err != nil {
				logger.Warn().Err(err).Str("metric", metric.Event).Msg("platform metric not recorded")
			}
		}()
	}

	bus.Subscribe(events.EventBookingStaked, func(event *events.Event) error {
		var payload events.BookingStakedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		send(models.PlatformMetric{
			Event:    "booking_staked",
			Category: "engagement",
			Value:    payload.Amount,
			Point:    int64(len(payload.Nights)),
		})
		return nil
	})

	bus.Subscribe(events.EventTokensPurchased, func(event *events.Event) error {
		var payload events.TokensPurchasedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return err
		}
		send(models.PlatformMetric{
			Event:    "tokens_purchased",
			Category: "engagement",
			Value:    payload.Amount,
			Point:    1,
		})
		return nil
	})
}
