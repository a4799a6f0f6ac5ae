package model

// ConservationReport compares the points the system thinks exist against
// the points it ever issued. Drift must always be zero; anything else is a
// standing invariant violation.
type ConservationReport struct {
	ExpectedTotal int64 `json:"expected_total"` // sum of all issue-kind amounts
	ActualSum     int64 `json:"actual_sum"`     // sum of lifetime_credited - lifetime_debited
	Drift         int64 `json:"drift"`
}

// TierSummary is a purely derived dashboard row for one account of an owner.
type TierSummary struct {
	AccountID       int64  `json:"account_id"`
	Tier            Tier   `json:"tier"`
	OwnerRef        string `json:"owner_ref"`
	Allocated       int64  `json:"allocated"`        // lifetime credited into the account
	DistributedDown int64  `json:"distributed_down"` // lifetime debited out of it
	Held            int64  `json:"held"`             // current balance
}

// Grant is one capability row: actor holds authority over owner. The rows
// are maintained by the identity service; the ledger only reads them.
type Grant struct {
	ID        int64  `json:"id"        db:"id"        gorm:"primaryKey;autoIncrement;column:id"`
	ActorRef  string `json:"actor_ref" db:"actor_ref" gorm:"column:actor_ref;not null;index"`
	Authority string `json:"authority" db:"authority" gorm:"column:authority;not null"`
	OwnerRef  string `json:"owner_ref" db:"owner_ref" gorm:"column:owner_ref;not null"`
}

func (Grant) TableName() string { return "role_grants" }

// Authorities checked by the allocation workflows.
const (
	AuthorityPlatformOperator = "platform:operator"
	AuthorityOrgAllocator     = "org:allocator"
)

// OwnerRefPlatform is the owner of the single platform reserve account.
const OwnerRefPlatform = "platform"
