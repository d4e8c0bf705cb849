package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	repo "github.com/trellispay/trellis/internal/repository"
)

func NewRepositories(pool *pgxpool.Pool) repo.Repositories {
	return repo.Repositories{
		Accounts:       &accountsRepo{pool},
		Tokens:         &tokensRepo{pool},
		Authorizations: &authorizationsRepo{pool},
		Transactions:   &transactionsRepo{pool},
		AuditLogs:      &auditLogsRepo{pool},
	}
}
