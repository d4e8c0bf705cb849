package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type transactionsRepo struct{ pool *pgxpool.Pool }

func (r *transactionsRepo) Create(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	attrs, err := json.Marshal(tx.AttributeValues)
	if err != nil {
		return models.Transaction{}, err
	}
	const q = `
INSERT INTO transactions (
  payer, email, amount, payer_fee, initiating_party_fee, comments,
  attribute_values, account_id, token_id, authorization_id, parent_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
RETURNING id, created_at`
	err = r.pool.QueryRow(ctx, q,
		tx.Payer, tx.Email, tx.Amount, tx.PayerFee, tx.InitiatingPartyFee, tx.Comments,
		attrs, tx.AccountID, tx.TokenID, tx.AuthorizationID, tx.ParentID,
	).Scan(&tx.ID, &tx.CreatedAt)
	return tx, err
}

func (r *transactionsRepo) GetByID(ctx context.Context, id int64) (models.Transaction, error) {
	tx, err := r.scanOne(ctx, `WHERE id=$1`, id)
	if err != nil {
		return models.Transaction{}, err
	}
	events, err := r.loadEvents(ctx, []int64{id})
	if err != nil {
		return models.Transaction{}, err
	}
	tx.Events = events[id]
	return tx, nil
}

func (r *transactionsRepo) AppendEvent(ctx context.Context, e models.Event) (models.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transaction_events(id, transaction_id, event_type, response_code, gateway_ref, occurred_at)
		 VALUES($1,$2,$3,$4,$5,$6)`,
		e.ID, e.TransactionID, e.Type, e.ResponseCode, e.GatewayRef, e.OccurredAt,
	)
	return e, err
}

func (r *transactionsRepo) ListChildren(ctx context.Context, parentID int64) ([]*models.Transaction, error) {
	txs, err := r.scanMany(ctx, `WHERE parent_id=$1 ORDER BY id`, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Transaction, 0, len(txs))
	ids := make([]int64, 0, len(txs))
	for i := range txs {
		out = append(out, &txs[i])
		ids = append(ids, txs[i].ID)
	}
	if len(ids) > 0 {
		events, err := r.loadEvents(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, tx := range out {
			tx.Events = events[tx.ID]
		}
	}
	return out, nil
}

func (r *transactionsRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	return r.scanMany(ctx,
		`WHERE account_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
}

func (r *transactionsRepo) MarkSettled(ctx context.Context, id int64, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE transactions SET settled_at=COALESCE(settled_at, $2) WHERE id=$1`,
		id, at,
	)
	return err
}

func (r *transactionsRepo) ListSettleable(ctx context.Context, before time.Time) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
SELECT t.id FROM transactions t
 WHERE t.settled_at IS NULL
   AND t.created_at < $1
   AND EXISTS (SELECT 1 FROM transaction_events e
                WHERE e.transaction_id=t.id AND e.event_type='Sale' AND e.response_code='Success')
   AND NOT EXISTS (SELECT 1 FROM transaction_events e
                    WHERE e.transaction_id=t.id AND e.event_type='Void')
 ORDER BY t.id`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const txColumns = `id, payer, email, amount, payer_fee, initiating_party_fee, comments,
attribute_values, account_id, token_id, authorization_id, parent_id, settled_at, created_at`

func (r *transactionsRepo) scanOne(ctx context.Context, where string, args ...any) (models.Transaction, error) {
	var tx models.Transaction
	var attrs []byte
	err := r.pool.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions `+where, args...).Scan(
		&tx.ID, &tx.Payer, &tx.Email, &tx.Amount, &tx.PayerFee, &tx.InitiatingPartyFee,
		&tx.Comments, &attrs, &tx.AccountID, &tx.TokenID, &tx.AuthorizationID,
		&tx.ParentID, &tx.SettledAt, &tx.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, repo.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &tx.AttributeValues); err != nil {
			return models.Transaction{}, err
		}
	}
	return tx, nil
}

func (r *transactionsRepo) scanMany(ctx context.Context, where string, args ...any) ([]models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+txColumns+` FROM transactions `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		var attrs []byte
		if err := rows.Scan(
			&tx.ID, &tx.Payer, &tx.Email, &tx.Amount, &tx.PayerFee, &tx.InitiatingPartyFee,
			&tx.Comments, &attrs, &tx.AccountID, &tx.TokenID, &tx.AuthorizationID,
			&tx.ParentID, &tx.SettledAt, &tx.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &tx.AttributeValues); err != nil {
				return nil, err
			}
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *transactionsRepo) loadEvents(ctx context.Context, ids []int64) (map[int64][]models.Event, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, transaction_id, event_type, response_code, gateway_ref, occurred_at
		   FROM transaction_events
		  WHERE transaction_id = ANY($1)
		  ORDER BY occurred_at, id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64][]models.Event{}
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.Type, &e.ResponseCode, &e.GatewayRef, &e.OccurredAt); err != nil {
			return nil, err
		}
		out[e.TransactionID] = append(out[e.TransactionID], e)
	}
	return out, rows.Err()
}
