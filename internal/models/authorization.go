package models

import "time"

// Authorization is a funds hold against a token, consumable by exactly one
// transaction post.
type Authorization struct {
	ID         string    `json:"id"`
	Amount     int64     `json:"amount"`
	TokenID    string    `json:"token_id"`
	AccountID  string    `json:"account_id"`
	Consumed   bool      `json:"consumed"`
	GatewayRef string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}
