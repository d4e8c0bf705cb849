package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/trellispay/trellis/internal/metrics"
)

// Breaker wraps a Gateway with a circuit breaker and a per-call timeout.
// Timeouts, transport errors and an open breaker all collapse into a
// declined system-error Result; callers never see a transport failure.
type Breaker struct {
	inner   Gateway
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewBreaker(inner Gateway, timeout time.Duration) *Breaker {
	settings := gobreaker.Settings{
		Name: "payment-gateway",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("gateway breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker(settings), timeout: timeout}
}

func (b *Breaker) Charge(ctx context.Context, in Instruction) (Result, error) {
	return b.execute(ctx, func(ctx context.Context) (Result, error) {
		return b.inner.Charge(ctx, in)
	})
}

func (b *Breaker) Reverse(ctx context.Context, ref string) (Result, error) {
	return b.execute(ctx, func(ctx context.Context) (Result, error) {
		return b.inner.Reverse(ctx, ref)
	})
}

func (b *Breaker) execute(ctx context.Context, call func(context.Context) (Result, error)) (Result, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	start := time.Now()
	res, err := b.cb.Execute(func() (any, error) {
		return call(ctx)
	})
	metrics.GatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Error("gateway call failed", "err", err)
		return Result{Code: CodeSystemError}, nil
	}
	return res.(Result), nil
}
