package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type authorizationsRepo struct{ pool *pgxpool.Pool }

func (r *authorizationsRepo) Create(ctx context.Context, a models.Authorization) (models.Authorization, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO authorizations(id, amount, token_id, account_id, consumed, gateway_ref)
		 VALUES($1,$2,$3,$4,false,$5)
		 RETURNING created_at`,
		a.ID, a.Amount, a.TokenID, a.AccountID, a.GatewayRef,
	).Scan(&a.CreatedAt)
	return a, err
}

func (r *authorizationsRepo) GetByID(ctx context.Context, id string) (models.Authorization, error) {
	var a models.Authorization
	err := r.pool.QueryRow(ctx,
		`SELECT id, amount, token_id, account_id, consumed, gateway_ref, created_at
		   FROM authorizations WHERE id=$1`, id,
	).Scan(&a.ID, &a.Amount, &a.TokenID, &a.AccountID, &a.Consumed, &a.GatewayRef, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Authorization{}, repo.ErrNotFound
	}
	return a, err
}

// Consume is a single conditional UPDATE so concurrent posts racing on the
// same hold get exactly one winner.
func (r *authorizationsRepo) Consume(ctx context.Context, id string) (models.Authorization, error) {
	var a models.Authorization
	err := r.pool.QueryRow(ctx,
		`UPDATE authorizations SET consumed=true
		  WHERE id=$1 AND consumed=false
		  RETURNING id, amount, token_id, account_id, consumed, gateway_ref, created_at`,
		id,
	).Scan(&a.ID, &a.Amount, &a.TokenID, &a.AccountID, &a.Consumed, &a.GatewayRef, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the hold never existed or it was already claimed.
		if _, getErr := r.GetByID(ctx, id); getErr == nil {
			return models.Authorization{}, repo.ErrConsumed
		}
		return models.Authorization{}, repo.ErrNotFound
	}
	return a, err
}
