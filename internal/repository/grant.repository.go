package repository

import (
	"context"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/pkg/pg"
)

type GrantEntity struct {
	ID        int64  `db:"id"        gorm:"primaryKey;autoIncrement;column:id"`
	ActorRef  string `db:"actor_ref" gorm:"column:actor_ref;not null;uniqueIndex:idx_grants_actor_authority_owner"`
	Authority string `db:"authority" gorm:"column:authority;not null;uniqueIndex:idx_grants_actor_authority_owner"`
	OwnerRef  string `db:"owner_ref" gorm:"column:owner_ref;not null;uniqueIndex:idx_grants_actor_authority_owner"`
}

func (GrantEntity) TableName() string {
	return "role_grants"
}

// GrantRepository reads the capability rows the identity service maintains.
// The ledger never writes them outside of tests and local seeding.
type GrantRepository struct {
	*pg.DB
}

func NewGrantRepository(db *pg.DB) *GrantRepository {
	return &GrantRepository{
		db,
	}
}

// HasAuthority answers "does actor hold authority over owner" - the single
// capability check every allocation workflow goes through.
func (r *GrantRepository) HasAuthority(ctx context.Context, actorRef, authority, ownerRef string) (bool, error) {
	var count int64

	err := r.Read(ctx).WithContext(ctx).
		Model(&GrantEntity{}).
		Where("actor_ref = ? AND authority = ? AND owner_ref = ?", actorRef, authority, ownerRef).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *GrantRepository) Create(ctx context.Context, g *model.Grant) (*model.Grant, error) {
	entity := &GrantEntity{
		ActorRef:  g.ActorRef,
		Authority: g.Authority,
		OwnerRef:  g.OwnerRef,
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return &model.Grant{
		ID:        entity.ID,
		ActorRef:  entity.ActorRef,
		Authority: entity.Authority,
		OwnerRef:  entity.OwnerRef,
	}, nil
}
