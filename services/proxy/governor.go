package proxy

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const defaultMinSpacing = time.Second

// RateGovernor enforces a minimum spacing between outbound provider
// requests across all goroutines sharing the executor.
type RateGovernor struct {
	limiter *rate.Limiter
}

// NewRateGovernor builds a governor with the given minimum spacing between
// requests. Non-positive spacing falls back to the default of one second.
func NewRateGovernor(minSpacing time.Duration) *RateGovernor {
	if minSpacing <= 0 {
		minSpacing = defaultMinSpacing
	}
	return &RateGovernor{
		limiter: rate.NewLimiter(rate.Every(minSpacing), 1),
	}
}

// NewRateGovernorFromEnv reads CLASSCHAT_MIN_SPACING_MS and falls back to
// the default spacing when it is unset or unparseable.
func NewRateGovernorFromEnv() *RateGovernor {
	spacing := defaultMinSpacing
	if raw := os.Getenv("CLASSCHAT_MIN_SPACING_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			slog.Warn("Ignoring invalid CLASSCHAT_MIN_SPACING_MS", "value", raw)
		} else {
			spacing = time.Duration(ms) * time.Millisecond
		}
	}
	slog.Info("Initializing rate governor", "min_spacing", spacing)
	return NewRateGovernor(spacing)
}

// Throttle blocks until the next request slot is available or ctx is
// cancelled. The first call never blocks.
func (g *RateGovernor) Throttle(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
