package domain

// RootName is the name the spec and the inventory use for the organization root.
const RootName = "root"

// Organization holds the identity of the live organization.
type Organization struct {
	ID              string `json:"id"`
	MasterAccountID string `json:"master_account_id"`
}

// AccountStatusActive is the status of a usable account.
const AccountStatusActive = "ACTIVE"

// Account is a live member account of the organization.
type Account struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Status   string `json:"status"`
	ParentID string `json:"parent_id"`
}

// OrganizationalUnit is a live container in the organization tree.
// The root is represented as an OrganizationalUnit named RootName with no parent.
type OrganizationalUnit struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ParentID     string   `json:"parent_id,omitempty"`
	ChildNames   []string `json:"child_ou,omitempty"`
	AccountNames []string `json:"accounts,omitempty"`
	PolicyNames  []string `json:"policies,omitempty"`
}

// IsRoot reports whether the unit is the organization root.
func (ou *OrganizationalUnit) IsRoot() bool {
	return ou.ParentID == ""
}
