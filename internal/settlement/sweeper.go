// Package settlement stands in for the external batch schedule: sold
// transactions become refund-eligible once the sweeper stamps them settled.
package settlement

import (
	"context"
	"log/slog"
	"time"

	repo "github.com/trellispay/trellis/internal/repository"
)

type Sweeper struct {
	txs      repo.Transactions
	after    time.Duration
	interval time.Duration
}

func NewSweeper(txs repo.Transactions, settleAfter, interval time.Duration) *Sweeper {
	return &Sweeper{txs: txs, after: settleAfter, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep settles every sold, unvoided transaction older than the settle-after
// window. Exposed for tests and for manual batch runs.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.after)
	ids, err := s.txs.ListSettleable(ctx, cutoff)
	if err != nil {
		slog.Error("settlement sweep", "err", err)
		return
	}
	now := time.Now()
	for _, id := range ids {
		if err := s.txs.MarkSettled(ctx, id, now); err != nil {
			slog.Error("settle transaction", "id", id, "err", err)
		}
	}
	if len(ids) > 0 {
		slog.Info("settlement sweep complete", "settled", len(ids))
	}
}
