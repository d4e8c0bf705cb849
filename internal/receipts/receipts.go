// Package receipts decouples receipt delivery from the transaction engine.
// Delivery itself (email) is an external concern; the engine only hands a
// Receipt to a Sender on the worker pool.
package receipts

import (
	"context"
	"log/slog"
)

type Receipt struct {
	TransactionID int64
	Email         string
	Operation     string // sale|void|refund
	Amount        int64
}

type Sender interface {
	Send(ctx context.Context, r Receipt) error
}

// LogSender records the dispatch and drops the receipt. Stands in for the
// mail relay outside dev.
type LogSender struct{}

func (LogSender) Send(_ context.Context, r Receipt) error {
	slog.Info("receipt dispatched",
		"transaction_id", r.TransactionID,
		"email", r.Email,
		"operation", r.Operation,
		"amount", r.Amount,
	)
	return nil
}
