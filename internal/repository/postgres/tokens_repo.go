package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type tokensRepo struct{ pool *pgxpool.Pool }

func (r *tokensRepo) Create(ctx context.Context, t models.Token) (models.Token, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	instrument, err := json.Marshal(t.Instrument)
	if err != nil {
		return models.Token{}, err
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO tokens(id, payer, email, instrument, account_id)
		 VALUES($1,$2,$3,$4,$5)
		 RETURNING created_at`,
		t.ID, t.Payer, t.Email, instrument, t.AccountID,
	).Scan(&t.CreatedAt)
	return t, err
}

func (r *tokensRepo) GetByID(ctx context.Context, id string) (models.Token, error) {
	var t models.Token
	var instrument []byte
	err := r.pool.QueryRow(ctx,
		`SELECT id, payer, email, instrument, account_id, created_at FROM tokens WHERE id=$1`, id,
	).Scan(&t.ID, &t.Payer, &t.Email, &instrument, &t.AccountID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Token{}, repo.ErrNotFound
	}
	if err != nil {
		return models.Token{}, err
	}
	if err := json.Unmarshal(instrument, &t.Instrument); err != nil {
		return models.Token{}, err
	}
	return t, nil
}
