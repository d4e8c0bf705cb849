package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type accountsRepo struct {
	mu     sync.RWMutex
	byID   map[string]models.Account
	byKey  map[string]string // key -> id
	grants map[string]models.ImpersonationGrant
}

func NewAccounts() repo.Accounts {
	return &accountsRepo{
		byID:   map[string]models.Account{},
		byKey:  map[string]string{},
		grants: map[string]models.ImpersonationGrant{},
	}
}

func (r *accountsRepo) Create(_ context.Context, name, key, secretHash string) (models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := models.Account{
		ID:         uuid.NewString(),
		Name:       name,
		Key:        key,
		SecretHash: secretHash,
		CreatedAt:  time.Now(),
	}
	r.byID[a.ID] = a
	r.byKey[a.Key] = a.ID
	return a, nil
}

func (r *accountsRepo) GetByID(_ context.Context, id string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return models.Account{}, repo.ErrNotFound
	}
	return a, nil
}

func (r *accountsRepo) GetByKey(_ context.Context, key string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return models.Account{}, repo.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *accountsRepo) CreateGrant(_ context.Context, g models.ImpersonationGrant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	r.grants[g.KeyHash] = g
	return nil
}

func (r *accountsRepo) HasGrant(_ context.Context, grantorID, granteeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.grants {
		if g.GrantorID == grantorID && g.GranteeID == granteeID {
			return true, nil
		}
	}
	return false, nil
}

func (r *accountsRepo) GetGrantByKeyHash(_ context.Context, keyHash string) (models.ImpersonationGrant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grants[keyHash]
	if !ok {
		return models.ImpersonationGrant{}, repo.ErrNotFound
	}
	return g, nil
}
