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

type accountsRepo struct{ pool *pgxpool.Pool }

func (r *accountsRepo) Create(ctx context.Context, name, key, secretHash string) (models.Account, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts(id, name, key, secret_hash) VALUES($1,$2,$3,$4)`,
		id, name, key, secretHash,
	)
	if err != nil {
		return models.Account{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *accountsRepo) GetByID(ctx context.Context, id string) (models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, key, secret_hash, created_at FROM accounts WHERE id=$1`, id,
	).Scan(&a.ID, &a.Name, &a.Key, &a.SecretHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, repo.ErrNotFound
	}
	return a, err
}

func (r *accountsRepo) GetByKey(ctx context.Context, key string) (models.Account, error) {
	var a models.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, key, secret_hash, created_at FROM accounts WHERE key=$1`, key,
	).Scan(&a.ID, &a.Name, &a.Key, &a.SecretHash, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, repo.ErrNotFound
	}
	return a, err
}

func (r *accountsRepo) CreateGrant(ctx context.Context, g models.ImpersonationGrant) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO impersonation_grants(key_hash, grantor_id, grantee_id) VALUES($1,$2,$3)`,
		g.KeyHash, g.GrantorID, g.GranteeID,
	)
	return err
}

func (r *accountsRepo) HasGrant(ctx context.Context, grantorID, granteeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM impersonation_grants WHERE grantor_id=$1 AND grantee_id=$2)`,
		grantorID, granteeID,
	).Scan(&exists)
	return exists, err
}

func (r *accountsRepo) GetGrantByKeyHash(ctx context.Context, keyHash string) (models.ImpersonationGrant, error) {
	var g models.ImpersonationGrant
	err := r.pool.QueryRow(ctx,
		`SELECT key_hash, grantor_id, grantee_id, created_at FROM impersonation_grants WHERE key_hash=$1`,
		keyHash,
	).Scan(&g.KeyHash, &g.GrantorID, &g.GranteeID, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ImpersonationGrant{}, repo.ErrNotFound
	}
	return g, err
}
