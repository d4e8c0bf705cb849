package services

import (
	"context"
	"errors"

	"github.com/trellispay/trellis/internal/auth"
	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AccountService struct {
	accounts repo.Accounts
}

func NewAccountService(accounts repo.Accounts) *AccountService {
	return &AccountService{accounts: accounts}
}

// Register creates an account and returns it with its one-time secret.
func (s *AccountService) Register(ctx context.Context, name string) (models.Account, string, error) {
	key, secret, err := auth.GenerateCredentials()
	if err != nil {
		return models.Account{}, "", err
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return models.Account{}, "", err
	}
	a, err := s.accounts.Create(ctx, name, key, hash)
	if err != nil {
		return models.Account{}, "", err
	}
	return a, secret, nil
}

// Authenticate resolves a Basic credential pair to an account.
func (s *AccountService) Authenticate(ctx context.Context, key, secret string) (models.Account, error) {
	a, err := s.accounts.GetByKey(ctx, key)
	if errors.Is(err, repo.ErrNotFound) {
		return models.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.Account{}, err
	}
	if auth.VerifySecret(secret, a.SecretHash) != nil {
		return models.Account{}, ErrInvalidCredentials
	}
	return a, nil
}

// GrantImpersonation lets the account identified by granteeKey act as
// grantor. Returns the one-time impersonation key.
func (s *AccountService) GrantImpersonation(ctx context.Context, grantor models.Account, granteeKey string) (string, error) {
	grantee, err := s.accounts.GetByKey(ctx, granteeKey)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	key, hash, err := auth.GenerateImpersonationKey()
	if err != nil {
		return "", err
	}
	err = s.accounts.CreateGrant(ctx, models.ImpersonationGrant{
		KeyHash:   hash,
		GrantorID: grantor.ID,
		GranteeID: grantee.ID,
	})
	if err != nil {
		return "", err
	}
	return key, nil
}
