// Package gateway abstracts the external card and ACH networks. The engine
// only sees a Result; network failures are absorbed into declined results by
// the breaker decorator, never surfaced as transport errors.
package gateway

import (
	"context"

	"github.com/trellispay/trellis/internal/models"
)

type Kind string

const (
	Sale      Kind = "sale"
	Authorize Kind = "authorize"
)

type Instruction struct {
	Kind       Kind
	Instrument models.Instrument
	Amount     int64
}

type Result struct {
	Approved  bool
	Code      string // network response code, e.g. "00" approved, "05" decline
	Reference string
}

const (
	CodeApproved    = "00"
	CodeDecline     = "05"
	CodeSystemError = "91"
)

type Gateway interface {
	Charge(ctx context.Context, in Instruction) (Result, error)
	Reverse(ctx context.Context, ref string) (Result, error)
}
