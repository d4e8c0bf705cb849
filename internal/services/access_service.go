package services

import (
	"context"
	"errors"

	"github.com/trellispay/trellis/internal/auth"
	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

// ErrInvalidImpersonation is returned when an impersonation key is unknown
// or was not granted to the authenticated account.
var ErrInvalidImpersonation = errors.New("invalid impersonation key")

// AccessService resolves which account a request acts as, and what that
// account may touch. Ownership is a capability check, not a role hierarchy.
type AccessService struct {
	accounts repo.Accounts
}

func NewAccessService(accounts repo.Accounts) *AccessService {
	return &AccessService{accounts: accounts}
}

// ResolveEffectiveAccount maps (authenticated account, optional impersonation
// key) to the account the request acts as. With no key the authenticated
// account is effective. A key must belong to a grant naming the
// authenticated account as grantee; the grantor becomes effective.
func (s *AccessService) ResolveEffectiveAccount(ctx context.Context, authed models.Account, impersonationKey string) (models.Account, error) {
	if impersonationKey == "" {
		return authed, nil
	}
	g, err := s.accounts.GetGrantByKeyHash(ctx, auth.HashKey(impersonationKey))
	if errors.Is(err, repo.ErrNotFound) {
		return models.Account{}, ErrInvalidImpersonation
	}
	if err != nil {
		return models.Account{}, err
	}
	if g.GranteeID != authed.ID {
		return models.Account{}, ErrInvalidImpersonation
	}
	return s.accounts.GetByID(ctx, g.GrantorID)
}

// CanMutate reports whether the effective account may void or refund a
// resource owned by ownerID.
func (s *AccessService) CanMutate(effective models.Account, ownerID string) bool {
	return effective.ID == ownerID
}

// CanRead is wider than CanMutate: the owner reads its own transactions, and
// an account holding any impersonation grant from the owner may read them
// without presenting the key on the request.
func (s *AccessService) CanRead(ctx context.Context, authed, effective models.Account, ownerID string) (bool, error) {
	if effective.ID == ownerID || authed.ID == ownerID {
		return true, nil
	}
	return s.accounts.HasGrant(ctx, ownerID, authed.ID)
}
