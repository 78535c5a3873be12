package domain

import "fmt"

// Inventory is a snapshot of the live organization.
type Inventory struct {
	Organization Organization          `json:"organization"`
	RootID       string                `json:"root_id"`
	Accounts     []*Account            `json:"accounts"`
	OUs          []*OrganizationalUnit `json:"organizational_units"`
	Policies     []*Policy             `json:"policies"`
}

// Root returns the root unit.
func (inv *Inventory) Root() (*OrganizationalUnit, error) {
	return inv.OU(inv.RootID)
}

// OU returns the unit with the given id.
func (inv *Inventory) OU(id string) (*OrganizationalUnit, error) {
	for _, ou := range inv.OUs {
		if ou.ID == id {
			return ou, nil
		}
	}
	return nil, fmt.Errorf("organizational unit %q: %w", id, ErrNotFound)
}

// ChildOU returns the child of parentID named name. Names are unique among siblings.
func (inv *Inventory) ChildOU(parentID, name string) (*OrganizationalUnit, error) {
	var found *OrganizationalUnit
	for _, ou := range inv.OUs {
		if ou.ParentID != parentID || ou.Name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("organizational unit %q under %q matches more than one unit: %w", name, parentID, ErrDataIntegrity)
		}
		found = ou
	}
	if found == nil {
		return nil, fmt.Errorf("organizational unit %q under %q: %w", name, parentID, ErrNotFound)
	}
	return found, nil
}

// OUByName returns the single unit named name anywhere in the tree.
func (inv *Inventory) OUByName(name string) (*OrganizationalUnit, error) {
	var found *OrganizationalUnit
	for _, ou := range inv.OUs {
		if ou.Name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("organizational unit name %q matches more than one unit: %w", name, ErrDataIntegrity)
		}
		found = ou
	}
	if found == nil {
		return nil, fmt.Errorf("organizational unit %q: %w", name, ErrNotFound)
	}
	return found, nil
}

// AccountByName returns the single account named name.
func (inv *Inventory) AccountByName(name string) (*Account, error) {
	var found *Account
	for _, a := range inv.Accounts {
		if a.Name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("account name %q matches more than one account: %w", name, ErrDataIntegrity)
		}
		found = a
	}
	if found == nil {
		return nil, fmt.Errorf("account %q: %w", name, ErrNotFound)
	}
	return found, nil
}

// PolicyByName returns the single policy named name.
func (inv *Inventory) PolicyByName(name string) (*Policy, error) {
	var found *Policy
	for _, p := range inv.Policies {
		if p.Name != name {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("policy name %q matches more than one policy: %w", name, ErrDataIntegrity)
		}
		found = p
	}
	if found == nil {
		return nil, fmt.Errorf("policy %q: %w", name, ErrNotFound)
	}
	return found, nil
}

// Children returns the direct child units of parentID.
func (inv *Inventory) Children(parentID string) []*OrganizationalUnit {
	var out []*OrganizationalUnit
	for _, ou := range inv.OUs {
		if ou.ParentID == parentID {
			out = append(out, ou)
		}
	}
	return out
}
