package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRunNonCritical(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		res := RunNonCritical(ctx, testLogger(), "referral", func(context.Context) error { return nil })
		assert.True(t, res.OK)
		assert.Empty(t, res.Error)
		assert.Equal(t, "referral", res.Name)
	})

	t.Run("ErrorIsLoggedNotReturned", func(t *testing.T) {
		var buf bytes.Buffer
		logger := zerolog.New(&buf)

		res := RunNonCritical(ctx, &logger, "referral", func(context.Context) error { return errors.New("platform down") })
		assert.False(t, res.OK)
		assert.Equal(t, "platform down", res.Error)
		assert.Contains(t, buf.String(), "non-critical task failed")
	})

	t.Run("PanicRecovered", func(t *testing.T) {
		res := RunNonCritical(ctx, nil, "referral", func(context.Context) error { panic("boom") })
		assert.False(t, res.OK)
		assert.Contains(t, res.Error, "boom")
	})
}
