// Package validation checks an organization spec before anything is mutated.
// Name rules follow the AWS Organizations API limits for accounts, OUs and policies.
package validation

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

const (
	maxAccountNameLen = 50
	maxOUNameLen      = 128
	maxPolicyNameLen  = 128
	maxDescriptionLen = 512
)

// validateName checks that a name is non-empty, within limit and free of control characters.
func validateName(name, entityType string, limit int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s name must not be empty", entityType)
	}
	if utf8.RuneCountInString(name) > limit {
		return fmt.Errorf("%s name must be at most %d characters", entityType, limit)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%s name must not contain control characters", entityType)
		}
	}
	return nil
}

// ValidateAccountName validates an account name.
func ValidateAccountName(name string) error {
	return validateName(name, "account", maxAccountNameLen)
}

// ValidateOUName validates an organizational unit name.
func ValidateOUName(name string) error {
	return validateName(name, "organizational unit", maxOUNameLen)
}

// ValidatePolicyName validates a service control policy name.
func ValidatePolicyName(name string) error {
	return validateName(name, "policy", maxPolicyNameLen)
}

// ValidateEmail validates an account email address.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email must not be empty")
	}
	atIndex := strings.Index(email, "@")
	if atIndex < 1 {
		return fmt.Errorf("email must contain '@' after at least one character")
	}
	domainPart := email[atIndex+1:]
	if domainPart == "" {
		return fmt.Errorf("email must have domain after '@'")
	}
	if !strings.Contains(domainPart, ".") {
		return fmt.Errorf("email domain must contain a '.'")
	}
	return nil
}

// ValidateSpec checks the cross-field rules of a parsed spec that struct tags cannot express.
func ValidateSpec(spec *domain.Spec) error {
	var errs ValidationErrors

	root := spec.Root()
	if root == nil {
		errs.Add("organizational_units", "", "must contain a node named 'root'")
	} else if root.Absent() {
		errs.Add("organizational_units", domain.RootName, "root cannot be marked absent")
	}
	if len(spec.OrganizationalUnits) > 1 {
		errs.Add("organizational_units", "", "must contain only the root node")
	}

	policyNames := make(map[string]bool, len(spec.SCPolicies))
	for _, p := range spec.SCPolicies {
		if err := ValidatePolicyName(p.Name); err != nil {
			errs.Add("sc_policies", p.Name, err.Error())
		}
		if policyNames[p.Name] {
			errs.Add("sc_policies", p.Name, "policy declared more than once")
		}
		policyNames[p.Name] = true
		if utf8.RuneCountInString(p.Description) > maxDescriptionLen {
			errs.Add("sc_policies", p.Name, fmt.Sprintf("description must be at most %d characters", maxDescriptionLen))
		}
		if p.Name == spec.DefaultPolicy && p.Absent() {
			errs.Add("sc_policies", p.Name, "default policy cannot be marked absent")
		}
	}

	ouNames := make(map[string]bool)
	if root != nil {
		validateNode(root, "organizational_units", &errs)
		root.Walk(func(node *domain.SpecOU) {
			ouNames[node.Name] = true
		})
	}
	if spec.DefaultOU != "" && !ouNames[spec.DefaultOU] {
		errs.Add("default_ou", spec.DefaultOU, "must name an organizational unit in the spec tree")
	}

	for _, a := range spec.Accounts {
		if err := ValidateAccountName(a.Name); err != nil {
			errs.Add("accounts", a.Name, err.Error())
		}
		if a.Email != "" {
			if err := ValidateEmail(a.Email); err != nil {
				errs.Add("accounts", a.Name, err.Error())
			}
		}
	}

	return errs.Err()
}

// validateNode checks one spec node and recurses into its children.
func validateNode(node *domain.SpecOU, path string, errs *ValidationErrors) {
	path = path + "/" + node.Name
	if err := ValidateOUName(node.Name); err != nil {
		errs.Add(path, node.Name, err.Error())
	}
	for _, a := range node.Accounts {
		if err := ValidateAccountName(a); err != nil {
			errs.Add(path+".Accounts", a, err.Error())
		}
	}
	siblings := make(map[string]bool, len(node.ChildOU))
	for _, child := range node.ChildOU {
		if siblings[child.Name] {
			errs.Add(path+".Child_OU", child.Name, "duplicate sibling organizational unit")
		}
		siblings[child.Name] = true
		validateNode(child, path, errs)
	}
}

// AccountOwners maps every account name in the tree to the OU names that list it.
// Each call builds a fresh map.
func AccountOwners(root *domain.SpecOU) map[string][]string {
	owners := make(map[string][]string)
	root.Walk(func(node *domain.SpecOU) {
		for _, account := range node.Accounts {
			owners[account] = append(owners[account], node.Name)
		}
	})
	return owners
}

// ValidateUniqueAccounts fails when an account is assigned to more than one OU.
func ValidateUniqueAccounts(root *domain.SpecOU) error {
	var dups []string
	for account, ous := range AccountOwners(root) {
		if len(ous) > 1 {
			dups = append(dups, fmt.Sprintf("%q in %s", account, strings.Join(ous, ", ")))
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return fmt.Errorf("%w: %s", domain.ErrDuplicateAccount, strings.Join(dups, "; "))
}

// ValidateMasterAccount guards against operating on a different organization than the spec describes.
func ValidateMasterAccount(spec *domain.Spec, org *domain.Organization) error {
	if spec.MasterAccountID != org.MasterAccountID {
		return fmt.Errorf("%w: spec declares %s, organization %s is managed by %s",
			domain.ErrMasterAccountMismatch, spec.MasterAccountID, org.ID, org.MasterAccountID)
	}
	return nil
}

// Validate runs every pre-mutation check. Any error is fatal for the run.
func Validate(spec *domain.Spec, org *domain.Organization) error {
	if err := ValidateSpec(spec); err != nil {
		return err
	}
	if err := ValidateUniqueAccounts(spec.Root()); err != nil {
		return err
	}
	return ValidateMasterAccount(spec, org)
}
