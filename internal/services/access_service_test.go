package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellispay/trellis/internal/repository/memory"
)

func TestResolveEffectiveAccount(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewRepositories()
	access := NewAccessService(repos.Accounts)
	accounts := NewAccountService(repos.Accounts)

	grantor, _, err := accounts.Register(ctx, "Grantor")
	require.NoError(t, err)
	grantee, _, err := accounts.Register(ctx, "Grantee")
	require.NoError(t, err)
	bystander, _, err := accounts.Register(ctx, "Bystander")
	require.NoError(t, err)

	key, err := accounts.GrantImpersonation(ctx, grantor, grantee.Key)
	require.NoError(t, err)

	t.Run("no key resolves to authed", func(t *testing.T) {
		eff, err := access.ResolveEffectiveAccount(ctx, grantee, "")
		require.NoError(t, err)
		assert.Equal(t, grantee.ID, eff.ID)
	})

	t.Run("key resolves grantee to grantor", func(t *testing.T) {
		eff, err := access.ResolveEffectiveAccount(ctx, grantee, key)
		require.NoError(t, err)
		assert.Equal(t, grantor.ID, eff.ID)
	})

	t.Run("key presented by non grantee is rejected", func(t *testing.T) {
		_, err := access.ResolveEffectiveAccount(ctx, bystander, key)
		assert.ErrorIs(t, err, ErrInvalidImpersonation)
	})

	t.Run("unknown key is rejected", func(t *testing.T) {
		_, err := access.ResolveEffectiveAccount(ctx, grantee, "ik_unknown")
		assert.ErrorIs(t, err, ErrInvalidImpersonation)
	})

	t.Run("read access", func(t *testing.T) {
		// Owner always reads its own rows.
		ok, err := access.CanRead(ctx, grantor, grantor, grantor.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		// A grantee reads grantor rows even without presenting the key.
		ok, err = access.CanRead(ctx, grantee, grantee, grantor.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = access.CanRead(ctx, bystander, bystander, grantor.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("mutation is strict ownership", func(t *testing.T) {
		assert.True(t, access.CanMutate(grantor, grantor.ID))
		assert.False(t, access.CanMutate(grantee, grantor.ID))
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewRepositories()
	accounts := NewAccountService(repos.Accounts)

	a, secret, err := accounts.Register(ctx, "Acme")
	require.NoError(t, err)

	got, err := accounts.Authenticate(ctx, a.Key, secret)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = accounts.Authenticate(ctx, a.Key, "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = accounts.Authenticate(ctx, "pk_unknown", secret)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
