package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellispay/trellis/internal/gateway"
	"github.com/trellispay/trellis/internal/models"
	"github.com/trellispay/trellis/internal/receipts"
	repo "github.com/trellispay/trellis/internal/repository"
	"github.com/trellispay/trellis/internal/repository/memory"
	"github.com/trellispay/trellis/internal/worker"
)

type testEnv struct {
	repos    repo.Repositories
	accounts *AccountService
	tokens   *TokenService
	txs      *TransactionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repos := memory.NewRepositories()
	access := NewAccessService(repos.Accounts)
	wp := worker.NewPool(2)
	t.Cleanup(wp.Stop)
	gw := gateway.NewSandbox(0)
	return &testEnv{
		repos:    repos,
		accounts: NewAccountService(repos.Accounts),
		tokens:   NewTokenService(repos.Tokens, access, repos.AuditLogs),
		txs: NewTransactionService(
			repos.Transactions, repos.Tokens, repos.Authorizations,
			repos.AuditLogs, access, gw, wp, receipts.LogSender{},
		),
	}
}

func (e *testEnv) newAccount(t *testing.T, name string) models.Account {
	t.Helper()
	a, _, err := e.accounts.Register(context.Background(), name)
	require.NoError(t, err)
	return a
}

func (e *testEnv) settle(t *testing.T, id int64) {
	t.Helper()
	require.NoError(t, e.repos.Transactions.MarkSettled(context.Background(), id, time.Now()))
}

func validCard() *models.CreditCard {
	return &models.CreditCard{
		AccountHolder: "Joe Murray",
		CardNumber:    "4242 4242 4242 4242",
		Cvc:           "123",
		Month:         12,
		Year:          2030,
	}
}

func cardRequest(amount int64) PostTransactionRequest {
	return PostTransactionRequest{
		Payer:  "Joe Murray",
		Email:  "joe@example.com",
		Amount: amount,
		Card:   validCard(),
	}
}

func countEvents(tx models.Transaction, typ models.EventType) int {
	n := 0
	for _, e := range tx.Events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestPostCardTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	req := cardRequest(2500)
	req.AttributeValues = map[string]string{"invoice": "INV-17", "campaign": "spring"}
	id, code, err := env.txs.Post(ctx, req, acct, "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, models.PaymentSuccess, code)

	tx, err := env.txs.Get(ctx, *id, acct, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), tx.Amount)
	assert.Equal(t, acct.ID, tx.AccountID)
	assert.Equal(t, map[string]string{"invoice": "INV-17", "campaign": "spring"}, tx.AttributeValues)
	require.Len(t, tx.Events, 1)
	assert.Equal(t, models.EventSale, tx.Events[0].Type)
	assert.Equal(t, string(models.PaymentSuccess), tx.Events[0].ResponseCode)
}

func TestPostBankTransaction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, code, err := env.txs.Post(ctx, PostTransactionRequest{
		Payer:  "Jane Smith",
		Email:  "jane@example.com",
		Amount: 900,
		Bank: &models.BankAccount{
			AccountHolder: "Jane Smith",
			FirstName:     "Jane",
			LastName:      "Smith",
			AccountNumber: "856667",
			RoutingNumber: "111000025",
			AccountType:   models.PersonalChecking,
		},
	}, acct, "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, models.PaymentSuccess, code)
}

func TestPostValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	tests := []struct {
		name string
		req  PostTransactionRequest
	}{
		{"missing payer", PostTransactionRequest{Email: "a@b.c", Amount: 100, Card: validCard()}},
		{"missing email", PostTransactionRequest{Payer: "Joe", Amount: 100, Card: validCard()}},
		{"zero amount", PostTransactionRequest{Payer: "Joe", Email: "a@b.c", Card: validCard()}},
		{"no instrument", PostTransactionRequest{Payer: "Joe", Email: "a@b.c", Amount: 100}},
		{"two sources", PostTransactionRequest{Payer: "Joe", Email: "a@b.c", Amount: 100, Card: validCard(), TokenID: "tok"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, _, err := env.txs.Post(ctx, tt.req, acct, "")
			assert.Error(t, err)
			assert.Nil(t, id)
		})
	}
}

func TestPostInvalidCardDeclinesWithoutRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	req := cardRequest(100)
	req.Card.CardNumber = "4242424242424241" // fails mod 10
	id, code, err := env.txs.Post(ctx, req, acct, "")
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Equal(t, models.PaymentInvalidInstrument, code)
}

func TestPostGatewayDeclineRecordsEvent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	req := cardRequest(100)
	req.Card.CardNumber = gateway.DeclineCardNumber
	id, code, err := env.txs.Post(ctx, req, acct, "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, models.PaymentGenericDecline, code)

	tx, err := env.txs.Get(ctx, *id, acct, "")
	require.NoError(t, err)
	require.Len(t, tx.Events, 1)
	assert.Equal(t, models.EventSale, tx.Events[0].Type)
	assert.Equal(t, string(models.PaymentGenericDecline), tx.Events[0].ResponseCode)

	// A declined transaction is not voidable.
	vc, err := env.txs.Void(ctx, *id, VoidRequest{}, acct, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReversalGenericDecline, vc)
}

func TestVoidThenVoidAgain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, code, err := env.txs.Post(ctx, cardRequest(5000), acct, "")
	require.NoError(t, err)
	require.Equal(t, models.PaymentSuccess, code)

	vc, err := env.txs.Void(ctx, *id, VoidRequest{}, acct, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReversalSuccess, vc)

	vc, err = env.txs.Void(ctx, *id, VoidRequest{}, acct, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReversalPreviouslyVoided, vc)

	tx, err := env.txs.Get(ctx, *id, acct, "")
	require.NoError(t, err)
	require.Len(t, tx.Events, 2)
	assert.Equal(t, models.EventSale, tx.Events[0].Type)
	assert.Equal(t, models.EventVoid, tx.Events[1].Type)
	assert.Equal(t, 1, countEvents(tx, models.EventVoid))
}

func TestVoidUnknownTransaction(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "Acme")

	_, err := env.txs.Void(context.Background(), 99999, VoidRequest{}, acct, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestConcurrentVoidsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, _, err := env.txs.Post(ctx, cardRequest(700), acct, "")
	require.NoError(t, err)

	const n = 16
	codes := make([]models.ReversalResponseCode, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := env.txs.Void(ctx, *id, VoidRequest{}, acct, "")
			if err == nil {
				codes[i] = c
			}
		}(i)
	}
	wg.Wait()

	success := 0
	for _, c := range codes {
		switch c {
		case models.ReversalSuccess:
			success++
		case models.ReversalPreviouslyVoided:
		default:
			t.Fatalf("unexpected reversal code %q", c)
		}
	}
	assert.Equal(t, 1, success)

	tx, err := env.txs.Get(ctx, *id, acct, "")
	require.NoError(t, err)
	assert.Equal(t, 1, countEvents(tx, models.EventVoid))
}

func TestImpersonationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAccount(t, "Owner")
	agent := env.newAccount(t, "Agent")

	key, err := env.accounts.GrantImpersonation(ctx, owner, agent.Key)
	require.NoError(t, err)

	// Posting with the key books the transaction under the grantor.
	id, code, err := env.txs.Post(ctx, cardRequest(1200), agent, key)
	require.NoError(t, err)
	require.Equal(t, models.PaymentSuccess, code)

	tx, err := env.txs.Get(ctx, *id, agent, key)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, tx.AccountID)

	// Reads work for the grantee with and without the key, and for the owner.
	_, err = env.txs.Get(ctx, *id, agent, "")
	assert.NoError(t, err)
	_, err = env.txs.Get(ctx, *id, owner, "")
	assert.NoError(t, err)

	// Mutation without the key is refused; with the key it succeeds.
	vc, err := env.txs.Void(ctx, *id, VoidRequest{}, agent, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReversalUnauthorized, vc)

	vc, err = env.txs.Void(ctx, *id, VoidRequest{}, agent, key)
	require.NoError(t, err)
	assert.Equal(t, models.ReversalSuccess, vc)
}

func TestImpersonationKeyWrongGrantee(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAccount(t, "Owner")
	agent := env.newAccount(t, "Agent")
	other := env.newAccount(t, "Other")

	key, err := env.accounts.GrantImpersonation(ctx, owner, agent.Key)
	require.NoError(t, err)

	_, _, err = env.txs.Post(ctx, cardRequest(100), other, key)
	assert.ErrorIs(t, err, ErrInvalidImpersonation)

	_, _, err = env.txs.Post(ctx, cardRequest(100), other, "ik_bogus")
	assert.ErrorIs(t, err, ErrInvalidImpersonation)
}

func TestGetForeignTransactionHidden(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAccount(t, "Owner")
	stranger := env.newAccount(t, "Stranger")

	id, _, err := env.txs.Post(ctx, cardRequest(100), owner, "")
	require.NoError(t, err)

	_, err = env.txs.Get(ctx, *id, stranger, "")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestPostWithUnknownAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	req := PostTransactionRequest{
		Payer:           "Joe Murray",
		Email:           "joe@example.com",
		AuthorizationID: "INVALID_ID",
	}
	id, code, err := env.txs.Post(ctx, req, acct, "")
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Equal(t, models.PaymentInvalidAuth, code)
}

func TestAuthorizeThenCapture(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	tokID, err := env.tokens.Create(ctx, CreateTokenRequest{
		Payer: "Joe Murray",
		Email: "joe@example.com",
		Card:  validCard(),
	}, acct, "")
	require.NoError(t, err)

	holdID, err := env.txs.Authorize(ctx, AuthorizeRequest{Amount: 3300, TokenID: tokID}, acct, "")
	require.NoError(t, err)
	require.NotEmpty(t, holdID)

	req := PostTransactionRequest{
		Payer:           "Joe Murray",
		Email:           "joe@example.com",
		AuthorizationID: holdID,
	}
	id, code, err := env.txs.Post(ctx, req, acct, "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, models.PaymentSuccess, code)

	tx, err := env.txs.Get(ctx, *id, acct, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3300), tx.Amount)
	assert.Equal(t, 1, countEvents(tx, models.EventAuthorize))
	assert.Equal(t, 1, countEvents(tx, models.EventSale))

	// The hold is single-use.
	id, code, err = env.txs.Post(ctx, req, acct, "")
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Equal(t, models.PaymentInvalidAuth, code)
}

func TestAuthorizationCrossAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAccount(t, "Owner")
	stranger := env.newAccount(t, "Stranger")

	tokID, err := env.tokens.Create(ctx, CreateTokenRequest{
		Payer: "Joe Murray",
		Email: "joe@example.com",
		Card:  validCard(),
	}, owner, "")
	require.NoError(t, err)

	holdID, err := env.txs.Authorize(ctx, AuthorizeRequest{Amount: 500, TokenID: tokID}, owner, "")
	require.NoError(t, err)

	id, code, err := env.txs.Post(ctx, PostTransactionRequest{
		Payer:           "Joe Murray",
		Email:           "joe@example.com",
		AuthorizationID: holdID,
	}, stranger, "")
	require.NoError(t, err)
	assert.Nil(t, id)
	assert.Equal(t, models.PaymentInvalidAuth, code)

	// The failed attempt must not have burned the hold.
	id, code, err = env.txs.Post(ctx, PostTransactionRequest{
		Payer:           "Joe Murray",
		Email:           "joe@example.com",
		AuthorizationID: holdID,
	}, owner, "")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, models.PaymentSuccess, code)
}

func TestAuthorizeForeignToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.newAccount(t, "Owner")
	stranger := env.newAccount(t, "Stranger")

	tokID, err := env.tokens.Create(ctx, CreateTokenRequest{
		Payer: "Joe Murray",
		Email: "joe@example.com",
		Card:  validCard(),
	}, owner, "")
	require.NoError(t, err)

	_, err = env.txs.Authorize(ctx, AuthorizeRequest{Amount: 500, TokenID: tokID}, stranger, "")
	assert.ErrorIs(t, err, ErrTokenAccess)
}

func TestConcurrentHoldConsumption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	tokID, err := env.tokens.Create(ctx, CreateTokenRequest{
		Payer: "Joe Murray",
		Email: "joe@example.com",
		Card:  validCard(),
	}, acct, "")
	require.NoError(t, err)
	holdID, err := env.txs.Authorize(ctx, AuthorizeRequest{Amount: 800, TokenID: tokID}, acct, "")
	require.NoError(t, err)

	const n = 12
	codes := make([]models.PaymentResponseCode, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, c, err := env.txs.Post(ctx, PostTransactionRequest{
				Payer:           "Joe Murray",
				Email:           "joe@example.com",
				AuthorizationID: holdID,
			}, acct, "")
			if err == nil {
				codes[i] = c
			}
		}(i)
	}
	wg.Wait()

	success := 0
	for _, c := range codes {
		if c == models.PaymentSuccess {
			success++
		}
	}
	assert.Equal(t, 1, success)
}

func TestRefundRequiresSettlement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, _, err := env.txs.Post(ctx, cardRequest(1000), acct, "")
	require.NoError(t, err)

	childID, code, err := env.txs.Refund(ctx, *id, RefundRequest{Amount: 100}, acct, "")
	require.NoError(t, err)
	assert.Nil(t, childID)
	assert.Equal(t, models.ReversalGenericDecline, code)
}

func TestPartialRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, _, err := env.txs.Post(ctx, cardRequest(10000), acct, "")
	require.NoError(t, err)
	env.settle(t, *id)

	first, code, err := env.txs.Refund(ctx, *id, RefundRequest{Amount: 500}, acct, "")
	require.NoError(t, err)
	require.Equal(t, models.ReversalSuccess, code)
	require.NotNil(t, first)

	child, err := env.txs.Get(ctx, *first, acct, "")
	require.NoError(t, err)
	assert.Equal(t, int64(-500), child.Amount)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, *id, *child.ParentID)
	assert.Equal(t, 1, countEvents(child, models.EventRefund))

	second, code, err := env.txs.Refund(ctx, *id, RefundRequest{Amount: 600}, acct, "")
	require.NoError(t, err)
	require.Equal(t, models.ReversalSuccess, code)
	require.NotNil(t, second)
	assert.NotEqual(t, *first, *second)

	// More than the remaining balance is refused and creates nothing.
	over, code, err := env.txs.Refund(ctx, *id, RefundRequest{Amount: 10000}, acct, "")
	require.NoError(t, err)
	assert.Nil(t, over)
	assert.Equal(t, models.ReversalGenericDecline, code)

	children, err := env.repos.Transactions.ListChildren(ctx, *id)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestFullRefundByOmittedAmount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, _, err := env.txs.Post(ctx, cardRequest(2000), acct, "")
	require.NoError(t, err)
	env.settle(t, *id)

	_, code, err := env.txs.Refund(ctx, *id, RefundRequest{Amount: 300}, acct, "")
	require.NoError(t, err)
	require.Equal(t, models.ReversalSuccess, code)

	childID, code, err := env.txs.Refund(ctx, *id, RefundRequest{}, acct, "")
	require.NoError(t, err)
	require.Equal(t, models.ReversalSuccess, code)
	require.NotNil(t, childID)

	child, err := env.txs.Get(ctx, *childID, acct, "")
	require.NoError(t, err)
	assert.Equal(t, int64(-1700), child.Amount)

	// Fully refunded transactions accept no further refunds.
	more, code, err := env.txs.Refund(ctx, *id, RefundRequest{Amount: 1}, acct, "")
	require.NoError(t, err)
	assert.Nil(t, more)
	assert.Equal(t, models.ReversalGenericDecline, code)
}

func TestConcurrentRefundsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, _, err := env.txs.Post(ctx, cardRequest(1000), acct, "")
	require.NoError(t, err)
	env.settle(t, *id)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = env.txs.Refund(ctx, *id, RefundRequest{Amount: 300}, acct, "")
		}()
	}
	wg.Wait()

	children, err := env.repos.Transactions.ListChildren(ctx, *id)
	require.NoError(t, err)
	var refunded int64
	for _, c := range children {
		refunded += -c.Amount
	}
	assert.LessOrEqual(t, refunded, int64(1000))
	assert.Equal(t, int64(900), refunded)
}

func TestVoidAfterRefundRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	acct := env.newAccount(t, "Acme")

	id, _, err := env.txs.Post(ctx, cardRequest(1000), acct, "")
	require.NoError(t, err)
	env.settle(t, *id)

	_, code, err := env.txs.Refund(ctx, *id, RefundRequest{Amount: 400}, acct, "")
	require.NoError(t, err)
	require.Equal(t, models.ReversalSuccess, code)

	vc, err := env.txs.Void(ctx, *id, VoidRequest{}, acct, "")
	require.NoError(t, err)
	assert.Equal(t, models.ReversalGenericDecline, vc)
}

func TestRefundNegativeAmountRejected(t *testing.T) {
	env := newTestEnv(t)
	acct := env.newAccount(t, "Acme")

	_, _, err := env.txs.Refund(context.Background(), 1, RefundRequest{Amount: -5}, acct, "")
	assert.Error(t, err)
}
