package repository

import (
	"github.com/openperks/points-ledger/internal/model"
)

type AccountEntity struct {
	ID               int64  `db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	Tier             string `db:"tier"              gorm:"column:tier;not null;uniqueIndex:idx_accounts_tier_owner"`
	OwnerRef         string `db:"owner_ref"         gorm:"column:owner_ref;not null;uniqueIndex:idx_accounts_tier_owner"`
	Balance          int64  `db:"balance"           gorm:"column:balance;not null;default:0;check:balance >= 0"`
	LifetimeCredited int64  `db:"lifetime_credited" gorm:"column:lifetime_credited;not null;default:0"`
	LifetimeDebited  int64  `db:"lifetime_debited"  gorm:"column:lifetime_debited;not null;default:0"`
	Status           string `db:"status"            gorm:"column:status;not null;default:active"`
}

func (AccountEntity) TableName() string {
	return "accounts"
}

func toAccountEntity(m *model.Account) *AccountEntity {
	if m == nil {
		return nil
	}
	return &AccountEntity{
		ID:               m.ID,
		Tier:             string(m.Tier),
		OwnerRef:         m.OwnerRef,
		Balance:          m.Balance,
		LifetimeCredited: m.LifetimeCredited,
		LifetimeDebited:  m.LifetimeDebited,
		Status:           string(m.Status),
	}
}

func toAccountModel(e *AccountEntity) *model.Account {
	if e == nil {
		return nil
	}
	return &model.Account{
		ID:               e.ID,
		Tier:             model.Tier(e.Tier),
		OwnerRef:         e.OwnerRef,
		Balance:          e.Balance,
		LifetimeCredited: e.LifetimeCredited,
		LifetimeDebited:  e.LifetimeDebited,
		Status:           model.AccountStatus(e.Status),
	}
}

func toAccountModels(entities []*AccountEntity) []*model.Account {
	if entities == nil {
		return nil
	}
	models := make([]*model.Account, len(entities))
	for i, e := range entities {
		models[i] = toAccountModel(e)
	}
	return models
}
