package models

import "time"

// Token is a stored payment instrument referenced by an opaque id. Immutable
// once created; owned by the account that created it (possibly impersonated).
type Token struct {
	ID         string     `json:"id"`
	Payer      string     `json:"payer"`
	Email      string     `json:"email_address"`
	Instrument Instrument `json:"-"`
	AccountID  string     `json:"account_id"`
	CreatedAt  time.Time  `json:"created_at"`
}
