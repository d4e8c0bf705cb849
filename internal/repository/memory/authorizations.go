package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type authorizationsRepo struct {
	mu    sync.Mutex
	holds map[string]models.Authorization
}

func NewAuthorizations() repo.Authorizations {
	return &authorizationsRepo{holds: map[string]models.Authorization{}}
}

func (r *authorizationsRepo) Create(_ context.Context, a models.Authorization) (models.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now()
	r.holds[a.ID] = a
	return a, nil
}

func (r *authorizationsRepo) GetByID(_ context.Context, id string) (models.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.holds[id]
	if !ok {
		return models.Authorization{}, repo.ErrNotFound
	}
	return a, nil
}

// Consume claims the hold under the repo lock, so concurrent posts racing on
// the same id see exactly one winner.
func (r *authorizationsRepo) Consume(_ context.Context, id string) (models.Authorization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.holds[id]
	if !ok {
		return models.Authorization{}, repo.ErrNotFound
	}
	if a.Consumed {
		return models.Authorization{}, repo.ErrConsumed
	}
	a.Consumed = true
	r.holds[id] = a
	return a, nil
}
