package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trellispay/trellis/internal/ledger"
	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

type transactionsRepo struct {
	mu     sync.RWMutex
	nextID int64
	txs    map[int64]*models.Transaction
}

func NewTransactions() repo.Transactions {
	return &transactionsRepo{txs: map[int64]*models.Transaction{}}
}

func (r *transactionsRepo) Create(_ context.Context, tx models.Transaction) (models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	tx.ID = r.nextID
	tx.CreatedAt = time.Now()
	stored := cloneTx(&tx)
	r.txs[tx.ID] = stored
	return *cloneTx(stored), nil
}

func (r *transactionsRepo) GetByID(_ context.Context, id int64) (models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tx, ok := r.txs[id]
	if !ok {
		return models.Transaction{}, repo.ErrNotFound
	}
	return *cloneTx(tx), nil
}

func (r *transactionsRepo) AppendEvent(_ context.Context, e models.Event) (models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[e.TransactionID]
	if !ok {
		return models.Event{}, repo.ErrNotFound
	}
	e.ID = uuid.NewString()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	tx.Events = append(tx.Events, e)
	return e, nil
}

func (r *transactionsRepo) ListChildren(_ context.Context, parentID int64) ([]*models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*models.Transaction
	for _, tx := range r.txs {
		if tx.ParentID != nil && *tx.ParentID == parentID {
			out = append(out, cloneTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *transactionsRepo) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []models.Transaction
	for _, tx := range r.txs {
		if tx.AccountID == accountID {
			all = append(all, *cloneTx(tx))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *transactionsRepo) MarkSettled(_ context.Context, id int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[id]
	if !ok {
		return repo.ErrNotFound
	}
	if tx.SettledAt == nil {
		tx.SettledAt = &at
	}
	return nil
}

func (r *transactionsRepo) ListSettleable(_ context.Context, before time.Time) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int64
	for _, tx := range r.txs {
		if tx.SettledAt != nil || !tx.CreatedAt.Before(before) {
			continue
		}
		if !ledger.HasSuccessfulSale(tx.Events) || ledger.HasEvent(tx.Events, models.EventVoid) {
			continue
		}
		ids = append(ids, tx.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// cloneTx copies the transaction along with its events and attribute map so
// callers never share memory with the store.
func cloneTx(tx *models.Transaction) *models.Transaction {
	cp := *tx
	cp.Events = append([]models.Event(nil), tx.Events...)
	if tx.AttributeValues != nil {
		cp.AttributeValues = make(map[string]string, len(tx.AttributeValues))
		for k, v := range tx.AttributeValues {
			cp.AttributeValues[k] = v
		}
	}
	return &cp
}
