package services

import (
	"context"

	"github.com/trellispay/trellis/internal/api/validate"
	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

// TokenService is the token vault: it stores payment instruments under
// opaque ids so the rest of the engine never handles raw instrument data.
type TokenService struct {
	tokens repo.Tokens
	access *AccessService
	audit  repo.AuditLogs
}

func NewTokenService(tokens repo.Tokens, access *AccessService, audit repo.AuditLogs) *TokenService {
	return &TokenService{tokens: tokens, access: access, audit: audit}
}

type CreateTokenRequest struct {
	Payer string              `json:"payer"`
	Email string              `json:"email_address"`
	Card  *models.CreditCard  `json:"credit_card_information,omitempty"`
	Bank  *models.BankAccount `json:"bank_account_information,omitempty"`
}

func (r CreateTokenRequest) validate() error {
	var errs validate.Errs
	if e := validate.Required("payer", r.Payer); e != nil {
		errs = append(errs, *e)
	}
	if e := validate.Required("emailAddress", r.Email); e != nil {
		errs = append(errs, *e)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Create stores the instrument bound to the effective account and returns
// the token id. Tokens are immutable once created.
func (s *TokenService) Create(ctx context.Context, req CreateTokenRequest, authed models.Account, impersonationKey string) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}
	instrument := models.Instrument{Card: req.Card, Bank: req.Bank}
	if err := instrument.Validate(); err != nil {
		return "", validate.Errs{{Field: "paymentInstrument", Msg: err.Error()}}
	}
	eff, err := s.access.ResolveEffectiveAccount(ctx, authed, impersonationKey)
	if err != nil {
		return "", err
	}
	tok, err := s.tokens.Create(ctx, models.Token{
		Payer:      req.Payer,
		Email:      req.Email,
		Instrument: instrument,
		AccountID:  eff.ID,
	})
	if err != nil {
		return "", err
	}
	_ = s.audit.Create(ctx, models.AuditLog{
		EntityType: "token",
		EntityID:   &tok.ID,
		AccountID:  eff.ID,
		Action:     "created",
	})
	return tok.ID, nil
}

// Resolve returns the stored instrument and its owner.
func (s *TokenService) Resolve(ctx context.Context, id string) (models.Token, error) {
	return s.tokens.GetByID(ctx, id)
}
