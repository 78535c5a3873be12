package domain

// EnsureAbsent marks a spec OU or policy that must not exist.
const EnsureAbsent = "absent"

// Spec is the parsed desired state of the organization.
type Spec struct {
	MasterAccountID     string        `yaml:"master_account_id" json:"master_account_id" validate:"required,numeric,len=12"`
	DefaultPolicy       string        `yaml:"default_policy" json:"default_policy" validate:"required"`
	DefaultOU           string        `yaml:"default_ou" json:"default_ou" validate:"required"`
	DefaultDomain       string        `yaml:"default_domain,omitempty" json:"default_domain,omitempty" validate:"omitempty,fqdn"`
	SCPolicies          []SpecPolicy  `yaml:"sc_policies" json:"sc_policies" validate:"dive"`
	OrganizationalUnits []*SpecOU     `yaml:"organizational_units" json:"organizational_units" validate:"required,min=1,dive,required"`
	Accounts            []SpecAccount `yaml:"accounts,omitempty" json:"accounts,omitempty" validate:"dive"`
}

// SpecPolicy declares a service control policy.
type SpecPolicy struct {
	Name        string   `yaml:"Name" json:"name" validate:"required"`
	Description string   `yaml:"Description" json:"description"`
	Effect      string   `yaml:"Effect" json:"effect" validate:"required_unless=Ensure absent,omitempty,oneof=Allow Deny"`
	Actions     []string `yaml:"Actions" json:"actions" validate:"required_unless=Ensure absent,dive,required"`
	Ensure      string   `yaml:"Ensure,omitempty" json:"ensure,omitempty" validate:"omitempty,oneof=present absent"`
}

// Absent reports whether the policy is marked "Ensure: absent".
func (p SpecPolicy) Absent() bool {
	return p.Ensure == EnsureAbsent
}

// SpecOU is a node of the desired organizational unit tree.
type SpecOU struct {
	Name       string    `yaml:"Name" json:"name" validate:"required"`
	Accounts   []string  `yaml:"Accounts,omitempty" json:"accounts,omitempty" validate:"dive,required"`
	SCPolicies []string  `yaml:"SC_Policies,omitempty" json:"sc_policies,omitempty" validate:"dive,required"`
	ChildOU    []*SpecOU `yaml:"Child_OU,omitempty" json:"child_ou,omitempty" validate:"dive,required"`
	Ensure     string    `yaml:"Ensure,omitempty" json:"ensure,omitempty" validate:"omitempty,oneof=present absent"`
}

// Absent reports whether the OU is marked "Ensure: absent".
func (ou *SpecOU) Absent() bool {
	return ou.Ensure == EnsureAbsent
}

// SpecAccount optionally pins the email used when an account is provisioned.
type SpecAccount struct {
	Name  string `yaml:"Name" json:"name" validate:"required"`
	Email string `yaml:"Email,omitempty" json:"email,omitempty" validate:"omitempty,email"`
}

// Root returns the spec node named RootName, or nil.
func (s *Spec) Root() *SpecOU {
	for _, ou := range s.OrganizationalUnits {
		if ou.Name == RootName {
			return ou
		}
	}
	return nil
}

// Policy returns the spec policy with the given name.
func (s *Spec) Policy(name string) (SpecPolicy, bool) {
	for _, p := range s.SCPolicies {
		if p.Name == name {
			return p, true
		}
	}
	return SpecPolicy{}, false
}

// AccountEmail returns the explicit email declared for an account, if any.
func (s *Spec) AccountEmail(name string) string {
	for _, a := range s.Accounts {
		if a.Name == name {
			return a.Email
		}
	}
	return ""
}

// Walk visits every node of the tree rooted at ou in pre-order.
func (ou *SpecOU) Walk(fn func(node *SpecOU)) {
	if ou == nil {
		return
	}
	fn(ou)
	for _, child := range ou.ChildOU {
		child.Walk(fn)
	}
}

// AccountNames returns every account name reachable from the tree, in walk order.
func (ou *SpecOU) AccountNames() []string {
	var names []string
	ou.Walk(func(node *SpecOU) {
		names = append(names, node.Accounts...)
	})
	return names
}

// OUNames returns every OU name reachable from the tree, including ou itself.
func (ou *SpecOU) OUNames() []string {
	var names []string
	ou.Walk(func(node *SpecOU) {
		names = append(names, node.Name)
	})
	return names
}
