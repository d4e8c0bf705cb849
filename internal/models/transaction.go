package models

import "time"

// Event is an immutable record appended to a transaction. The ordered event
// sequence is the canonical history; displayed state is derived from it.
type Event struct {
	ID            string    `json:"id"`
	TransactionID int64     `json:"transaction_id"`
	Type          EventType `json:"event_type"`
	ResponseCode  string    `json:"response_code"`
	GatewayRef    string    `json:"-"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Transaction amounts are minor units (cents); negative means a credit.
// Refunds are child transactions linked via ParentID. Rows are never deleted
// and never updated except by appending events or stamping settlement.
type Transaction struct {
	ID                 int64             `json:"id"`
	Payer              string            `json:"payer"`
	Email              string            `json:"email_address"`
	Amount             int64             `json:"amount"`
	PayerFee           int64             `json:"payer_fee,omitempty"`
	InitiatingPartyFee int64             `json:"initiating_party_fee,omitempty"`
	Comments           string            `json:"comments,omitempty"`
	AttributeValues    map[string]string `json:"attribute_values,omitempty"`
	AccountID          string            `json:"account_id"`
	TokenID            *string           `json:"token_id,omitempty"`
	AuthorizationID    *string           `json:"authorization_id,omitempty"`
	ParentID           *int64            `json:"parent_id,omitempty"`
	SettledAt          *time.Time        `json:"settled_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	Events             []Event           `json:"events"`
}

// Settled reports whether the external batch schedule has settled the
// transaction, which unlocks refund eligibility.
func (t *Transaction) Settled() bool { return t.SettledAt != nil }
