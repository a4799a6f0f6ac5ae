package model

// Tier is the ownership level an account belongs to.
type Tier string

const (
	TierPlatformReserve Tier = "platform_reserve"
	TierOrgPool         Tier = "org_pool"
	TierSubunitBudget   Tier = "subunit_budget"
	TierHolderWallet    Tier = "holder_wallet"
)

// AccountStatus is the lifecycle state of an account. Accounts are never
// deleted, only drained and marked inactive.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

type Account struct {
	ID               int64         `json:"id"                db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	Tier             Tier          `json:"tier"              db:"tier"              gorm:"column:tier;not null"`
	OwnerRef         string        `json:"owner_ref"         db:"owner_ref"         gorm:"column:owner_ref;not null"`
	Balance          int64         `json:"balance"           db:"balance"           gorm:"column:balance;not null;default:0"`
	LifetimeCredited int64         `json:"lifetime_credited" db:"lifetime_credited" gorm:"column:lifetime_credited;not null;default:0"`
	LifetimeDebited  int64         `json:"lifetime_debited"  db:"lifetime_debited"  gorm:"column:lifetime_debited;not null;default:0"`
	Status           AccountStatus `json:"status"            db:"status"            gorm:"column:status;not null;default:active"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) Active() bool { return a.Status == AccountStatusActive }

// tierEdges declares which tiers may transfer directly into which.
// Holder wallets are a sink: nothing flows out of them.
var tierEdges = map[Tier][]Tier{
	TierPlatformReserve: {TierOrgPool},
	TierOrgPool:         {TierSubunitBudget, TierHolderWallet},
	TierSubunitBudget:   {TierHolderWallet},
}

// TierEdgeAllowed reports whether a direct transfer from tier `from` to
// tier `to` is legal. Reversals traverse these edges backwards; callers
// check TierEdgeAllowed(to, from) for those.
func TierEdgeAllowed(from, to Tier) bool {
	for _, t := range tierEdges[from] {
		if t == to {
			return true
		}
	}
	return false
}
