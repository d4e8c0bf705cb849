package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
)

func TestTransactionsCloneIsolation(t *testing.T) {
	ctx := context.Background()
	txs := NewTransactions()

	created, err := txs.Create(ctx, models.Transaction{
		Payer:           "Joe",
		Email:           "joe@example.com",
		Amount:          100,
		AccountID:       "a1",
		AttributeValues: map[string]string{"invoice": "INV-1"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("id not assigned")
	}

	// Mutating the returned copy must not leak into the store.
	created.AttributeValues["invoice"] = "TAMPERED"
	created.Events = append(created.Events, models.Event{Type: models.EventVoid})

	got, err := txs.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.AttributeValues["invoice"] != "INV-1" {
		t.Errorf("attribute mutated through returned copy: %q", got.AttributeValues["invoice"])
	}
	if len(got.Events) != 0 {
		t.Errorf("events mutated through returned copy: %d", len(got.Events))
	}
}

func TestTransactionsAppendEventOrder(t *testing.T) {
	ctx := context.Background()
	txs := NewTransactions()

	created, err := txs.Create(ctx, models.Transaction{Payer: "Joe", Email: "joe@example.com", Amount: 100, AccountID: "a1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, typ := range []models.EventType{models.EventSale, models.EventVoid} {
		if _, err := txs.AppendEvent(ctx, models.Event{TransactionID: created.ID, Type: typ}); err != nil {
			t.Fatalf("AppendEvent(%s): %v", typ, err)
		}
	}

	got, err := txs.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if len(got.Events) != 2 || got.Events[0].Type != models.EventSale || got.Events[1].Type != models.EventVoid {
		t.Fatalf("events out of order: %+v", got.Events)
	}
	if got.Events[0].ID == "" || got.Events[0].OccurredAt.IsZero() {
		t.Fatal("event id or timestamp not assigned")
	}

	if _, err := txs.AppendEvent(ctx, models.Event{TransactionID: 404, Type: models.EventSale}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("append to unknown transaction: %v", err)
	}
}

func TestTransactionsListChildren(t *testing.T) {
	ctx := context.Background()
	txs := NewTransactions()

	parent, err := txs.Create(ctx, models.Transaction{Payer: "Joe", Email: "joe@example.com", Amount: 1000, AccountID: "a1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, amt := range []int64{-100, -200} {
		if _, err := txs.Create(ctx, models.Transaction{Payer: "Joe", Email: "joe@example.com", Amount: amt, AccountID: "a1", ParentID: &parent.ID}); err != nil {
			t.Fatalf("Create child: %v", err)
		}
	}
	// Unrelated row.
	if _, err := txs.Create(ctx, models.Transaction{Payer: "Jane", Email: "jane@example.com", Amount: 50, AccountID: "a1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	children, err := txs.ListChildren(ctx, parent.ID)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("want 2 children, got %d", len(children))
	}
	if children[0].Amount != -100 || children[1].Amount != -200 {
		t.Fatalf("children out of order: %d %d", children[0].Amount, children[1].Amount)
	}
}

func TestTransactionsListByAccountPaging(t *testing.T) {
	ctx := context.Background()
	txs := NewTransactions()

	for i := 0; i < 5; i++ {
		if _, err := txs.Create(ctx, models.Transaction{Payer: "Joe", Email: "joe@example.com", Amount: 100, AccountID: "a1"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	page, err := txs.ListByAccount(ctx, "a1", 2, 0)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("want 2, got %d", len(page))
	}
	// Newest first.
	if page[0].ID < page[1].ID {
		t.Fatalf("not newest first: %d %d", page[0].ID, page[1].ID)
	}

	page, err = txs.ListByAccount(ctx, "a1", 10, 4)
	if err != nil {
		t.Fatalf("ListByAccount: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("want 1 after offset, got %d", len(page))
	}

	page, err = txs.ListByAccount(ctx, "a1", 10, 99)
	if err != nil || page != nil {
		t.Fatalf("offset past end: %v %v", page, err)
	}
}

func TestMarkSettledIsIdempotent(t *testing.T) {
	ctx := context.Background()
	txs := NewTransactions()

	tx, err := txs.Create(ctx, models.Transaction{Payer: "Joe", Email: "joe@example.com", Amount: 100, AccountID: "a1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first := time.Now()
	if err := txs.MarkSettled(ctx, tx.ID, first); err != nil {
		t.Fatalf("MarkSettled: %v", err)
	}
	if err := txs.MarkSettled(ctx, tx.ID, first.Add(time.Hour)); err != nil {
		t.Fatalf("MarkSettled again: %v", err)
	}
	got, err := txs.GetByID(ctx, tx.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if !got.SettledAt.Equal(first) {
		t.Fatalf("settlement stamp moved: %v", got.SettledAt)
	}
}

func TestAuthorizationsConsumeOnce(t *testing.T) {
	ctx := context.Background()
	holds := NewAuthorizations()

	a, err := holds.Create(ctx, models.Authorization{Amount: 500, TokenID: "tok", AccountID: "a1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = holds.Consume(ctx, a.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, repo.ErrConsumed):
		default:
			t.Fatalf("unexpected consume error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("want exactly 1 winner, got %d", winners)
	}

	if _, err := holds.Consume(ctx, "unknown"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("consume unknown hold: %v", err)
	}
}
