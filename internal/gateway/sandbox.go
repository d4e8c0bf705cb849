package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeclineCardNumber always declines in the sandbox, mirroring the test
// numbers issued by real acquirers.
const DeclineCardNumber = "4000000000000002"

// Sandbox simulates the acquirer network: configurable latency and
// deterministic declines.
type Sandbox struct {
	Latency time.Duration
}

func NewSandbox(latency time.Duration) *Sandbox {
	return &Sandbox{Latency: latency}
}

func (s *Sandbox) Charge(ctx context.Context, in Instruction) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	if in.Amount <= 0 {
		return Result{Code: CodeDecline}, nil
	}
	if in.Instrument.Card != nil {
		num := strings.ReplaceAll(in.Instrument.Card.CardNumber, " ", "")
		if num == DeclineCardNumber {
			return Result{Code: CodeDecline}, nil
		}
	}
	return Result{Approved: true, Code: CodeApproved, Reference: uuid.NewString()}, nil
}

// Reverse approves any reversal against a known-shaped reference. Partial
// refunds reverse the same reference more than once, so this is not
// one-shot.
func (s *Sandbox) Reverse(ctx context.Context, ref string) (Result, error) {
	if err := s.wait(ctx); err != nil {
		return Result{}, err
	}
	if ref == "" {
		return Result{Code: CodeDecline}, nil
	}
	return Result{Approved: true, Code: CodeApproved, Reference: ref}, nil
}

func (s *Sandbox) wait(ctx context.Context) error {
	if s.Latency <= 0 {
		return nil
	}
	select {
	case <-time.After(s.Latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
