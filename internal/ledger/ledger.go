// Package ledger derives transaction state from the append-only event
// sequence. Nothing here mutates; callers recompute on read.
package ledger

import "github.com/trellispay/trellis/internal/models"

type State string

const (
	Created           State = "Created"
	Authorized        State = "Authorized"
	Declined          State = "Declined"
	Sold              State = "Sold"
	Voided            State = "Voided"
	PartiallyRefunded State = "PartiallyRefunded"
	FullyRefunded     State = "FullyRefunded"
)

// Derive computes the current lifecycle state of tx given its refund
// children. A Void event is terminal. Refund children outrank bare Sold.
func Derive(tx *models.Transaction, children []*models.Transaction) State {
	if HasEvent(tx.Events, models.EventVoid) {
		return Voided
	}
	if !HasEvent(tx.Events, models.EventSale) {
		if HasEvent(tx.Events, models.EventAuthorize) {
			return Authorized
		}
		return Created
	}
	if !HasSuccessfulSale(tx.Events) {
		return Declined
	}
	refunded := RefundedTotal(children)
	switch {
	case refunded == 0:
		return Sold
	case refunded < tx.Amount:
		return PartiallyRefunded
	default:
		return FullyRefunded
	}
}

func HasEvent(events []models.Event, typ models.EventType) bool {
	for _, e := range events {
		if e.Type == typ {
			return true
		}
	}
	return false
}

// HasSuccessfulSale reports whether a Sale event carries a Success code. A
// declined charge still leaves a Sale event behind, but the transaction is
// not voidable or refundable.
func HasSuccessfulSale(events []models.Event) bool {
	for _, e := range events {
		if e.Type == models.EventSale && e.ResponseCode == string(models.PaymentSuccess) {
			return true
		}
	}
	return false
}

// SaleReference returns the gateway reference of the successful Sale event,
// used to address reversals at the network.
func SaleReference(events []models.Event) string {
	for _, e := range events {
		if e.Type == models.EventSale && e.ResponseCode == string(models.PaymentSuccess) {
			return e.GatewayRef
		}
	}
	return ""
}

// RefundedTotal sums the magnitude of refund children. Children carry
// negative amounts; the total returned is positive.
func RefundedTotal(children []*models.Transaction) int64 {
	var total int64
	for _, c := range children {
		if c.Amount < 0 {
			total += -c.Amount
		}
	}
	return total
}

// RemainingBalance is the unrefunded portion of the original amount.
func RemainingBalance(tx *models.Transaction, children []*models.Transaction) int64 {
	return tx.Amount - RefundedTotal(children)
}
