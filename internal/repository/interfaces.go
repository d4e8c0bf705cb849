package repository

import (
	"context"
	"errors"
	"time"

	"github.com/trellispay/trellis/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConsumed is returned when an authorization hold has already been
	// applied to a transaction.
	ErrConsumed = errors.New("authorization already consumed")
)

type Accounts interface {
	Create(ctx context.Context, name, key, secretHash string) (models.Account, error)
	GetByID(ctx context.Context, id string) (models.Account, error)
	GetByKey(ctx context.Context, key string) (models.Account, error)
	CreateGrant(ctx context.Context, g models.ImpersonationGrant) error
	// GetGrantByKeyHash resolves an impersonation key (already hashed) to
	// its grant, or ErrNotFound.
	GetGrantByKeyHash(ctx context.Context, keyHash string) (models.ImpersonationGrant, error)
	// HasGrant reports whether grantor has granted impersonation rights to
	// grantee under any key.
	HasGrant(ctx context.Context, grantorID, granteeID string) (bool, error)
}

type Tokens interface {
	Create(ctx context.Context, t models.Token) (models.Token, error)
	GetByID(ctx context.Context, id string) (models.Token, error)
}

type Authorizations interface {
	Create(ctx context.Context, a models.Authorization) (models.Authorization, error)
	GetByID(ctx context.Context, id string) (models.Authorization, error)
	// Consume atomically marks the hold consumed. Returns ErrNotFound for an
	// unknown id and ErrConsumed if another post already claimed it.
	Consume(ctx context.Context, id string) (models.Authorization, error)
}

type Transactions interface {
	// Create persists the transaction and assigns its id. Ids are positive
	// and unique; no ordering is guaranteed across transactions.
	Create(ctx context.Context, tx models.Transaction) (models.Transaction, error)
	GetByID(ctx context.Context, id int64) (models.Transaction, error)
	AppendEvent(ctx context.Context, e models.Event) (models.Event, error)
	ListChildren(ctx context.Context, parentID int64) ([]*models.Transaction, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error)
	MarkSettled(ctx context.Context, id int64, at time.Time) error
	// ListSettleable returns ids of transactions with a successful sale, no
	// void and no settlement stamp, created before the cutoff.
	ListSettleable(ctx context.Context, before time.Time) ([]int64, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
}

// Repositories bundles one implementation of every store; the postgres and
// memory packages each provide a factory for it.
type Repositories struct {
	Accounts       Accounts
	Tokens         Tokens
	Authorizations Authorizations
	Transactions   Transactions
	AuditLogs      AuditLogs
}
