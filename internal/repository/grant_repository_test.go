package repository

import (
	"context"
	"testing"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrantRepository_HasAuthority(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewGrantRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, &model.Grant{
		ActorRef:  "ops-1",
		Authority: model.AuthorityPlatformOperator,
		OwnerRef:  model.OwnerRefPlatform,
	})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &model.Grant{
		ActorRef:  "mgr-1",
		Authority: model.AuthorityOrgAllocator,
		OwnerRef:  "org-acme",
	})
	require.NoError(t, err)

	t.Run("grant present", func(t *testing.T) {
		ok, err := repo.HasAuthority(ctx, "ops-1", model.AuthorityPlatformOperator, model.OwnerRefPlatform)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong authority", func(t *testing.T) {
		ok, err := repo.HasAuthority(ctx, "ops-1", model.AuthorityOrgAllocator, model.OwnerRefPlatform)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("authority does not cross owners", func(t *testing.T) {
		ok, err := repo.HasAuthority(ctx, "mgr-1", model.AuthorityOrgAllocator, "org-other")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown actor", func(t *testing.T) {
		ok, err := repo.HasAuthority(ctx, "nobody", model.AuthorityOrgAllocator, "org-acme")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
