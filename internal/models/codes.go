package models

// PaymentResponseCode is the outcome of a charge attempt.
type PaymentResponseCode string

const (
	PaymentSuccess           PaymentResponseCode = "Success"
	PaymentInvalidAuth       PaymentResponseCode = "InvalidAuthorization"
	PaymentGenericDecline    PaymentResponseCode = "GenericDecline"
	PaymentInvalidInstrument PaymentResponseCode = "InvalidPaymentInformation"
)

// ReversalResponseCode is the outcome of a void or refund attempt,
// distinct from the payment code of the original charge.
type ReversalResponseCode string

const (
	ReversalSuccess          ReversalResponseCode = "Success"
	ReversalPreviouslyVoided ReversalResponseCode = "PreviouslyVoided"
	ReversalUnauthorized     ReversalResponseCode = "Unauthorized"
	ReversalGenericDecline   ReversalResponseCode = "GenericDecline"
)

type EventType string

const (
	EventSale      EventType = "Sale"
	EventVoid      EventType = "Void"
	EventRefund    EventType = "Refund"
	EventAuthorize EventType = "Authorize"
)
