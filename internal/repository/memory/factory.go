// Package memory holds in-process repository implementations. They back the
// unit tests and the STORAGE=memory dev mode; the postgres package is the
// production counterpart.
package memory

import (
	repo "github.com/trellispay/trellis/internal/repository"
)

func NewRepositories() repo.Repositories {
	return repo.Repositories{
		Accounts:       NewAccounts(),
		Tokens:         NewTokens(),
		Authorizations: NewAuthorizations(),
		Transactions:   NewTransactions(),
		AuditLogs:      NewAuditLogs(),
	}
}
