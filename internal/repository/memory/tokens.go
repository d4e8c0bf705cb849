package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type tokensRepo struct {
	mu   sync.RWMutex
	toks map[string]models.Token
}

func NewTokens() repo.Tokens {
	return &tokensRepo{toks: map[string]models.Token{}}
}

func (r *tokensRepo) Create(_ context.Context, t models.Token) (models.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = time.Now()
	r.toks[t.ID] = t
	return t, nil
}

func (r *tokensRepo) GetByID(_ context.Context, id string) (models.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.toks[id]
	if !ok {
		return models.Token{}, repo.ErrNotFound
	}
	return t, nil
}
