package models

import "time"

// Account owns tokens, authorization holds and transactions. Credentials are
// a public key plus a secret; the secret is stored hashed.
type Account struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Key        string    `json:"key"`
	SecretHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ImpersonationGrant lets GranteeID act as GrantorID when it presents the
// matching impersonation key. The key itself is stored as a sha256 hash.
type ImpersonationGrant struct {
	KeyHash   string    `json:"-"`
	GrantorID string    `json:"grantor_id"`
	GranteeID string    `json:"grantee_id"`
	CreatedAt time.Time `json:"created_at"`
}
