// Package domain holds the lending flow's data model: parties, step records,
// the flow state value and the events that transform it.
package domain

// Role identifies one of the four parties of a run.
type Role string

const (
	RoleIssuer   Role = "issuer"
	RoleLender   Role = "lender"
	RoleBorrower Role = "borrower"
	RoleBroker   Role = "broker"
)

// Roles lists every role in display order.
var Roles = []Role{RoleIssuer, RoleLender, RoleBorrower, RoleBroker}

func (r Role) Valid() bool {
	switch r {
	case RoleIssuer, RoleLender, RoleBorrower, RoleBroker:
		return true
	}
	return false
}

// Label is the human-readable name shown on party cards.
func (r Role) Label() string {
	switch r {
	case RoleIssuer:
		return "Value Issuer"
	case RoleLender:
		return "Lender"
	case RoleBorrower:
		return "Borrower"
	case RoleBroker:
		return "Loan Broker"
	}
	return string(r)
}

// Party is one funded ledger identity. Seed never leaves the process.
type Party struct {
	Role         Role   `json:"role"`
	Label        string `json:"label"`
	Address      string `json:"address"`
	Seed         string `json:"-"`
	XRPBalance   string `json:"xrp_balance"`
	TokenBalance string `json:"token_balance,omitempty"`
}

// PartyUpdate is a partial Party keyed by role; nil fields are left unchanged.
type PartyUpdate struct {
	Role         Role    `json:"role"`
	Address      *string `json:"address,omitempty"`
	Seed         *string `json:"-"`
	XRPBalance   *string `json:"xrp_balance,omitempty"`
	TokenBalance *string `json:"token_balance,omitempty"`
}

// Merge returns p with the non-nil fields of u applied. Role never changes.
func (p Party) Merge(u PartyUpdate) Party {
	if u.Address != nil {
		p.Address = *u.Address
	}
	if u.Seed != nil {
		p.Seed = *u.Seed
	}
	if u.XRPBalance != nil {
		p.XRPBalance = *u.XRPBalance
	}
	if u.TokenBalance != nil {
		p.TokenBalance = *u.TokenBalance
	}
	return p
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
