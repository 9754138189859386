package service

import (
	"context"
	"fmt"
	"time"

	"closer/internal/metrics"

	"github.com/rs/zerolog"
)

// NonCriticalResult is the outcome of a best-effort task. It is logged and
// returned for inspection but never turned into an error of the caller.
type NonCriticalResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunNonCritical runs fn, recovering panics and counting failures.
func RunNonCritical(ctx context.Context, logger *zerolog.Logger, name string, fn func(context.Context) error) (res NonCriticalResult) {
	start := time.Now()
	res.Name = name

	defer func() {
		if r := recover(); r != nil {
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.Duration = time.Since(start)
		res.OK = res.Error == ""
		if res.OK {
			return
		}
		metrics.IncNonCriticalFailure(name)
		if logger != nil {
			logger.Warn().Str("task", name).Str("error", res.Error).Dur("took", res.Duration).Msg("non-critical task failed")
		}
	}()

	if err := fn(ctx); err != nil {
		res.Error = err.Error()
	}
	return res
}
