// Package inventory reads the live state of the organization.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
)

// Reader builds an Inventory from the Organizations API.
type Reader struct {
	client organizations.Reader
	log    logrus.FieldLogger
}

// New creates a Reader.
func New(client organizations.Reader, log logrus.FieldLogger) *Reader {
	return &Reader{client: client, log: log}
}

// Read queries accounts, the OU tree and policies and joins them.
// When withContent is set every policy is described so Content is filled in.
func (r *Reader) Read(ctx context.Context, withContent bool) (*domain.Inventory, error) {
	org, err := r.client.DescribeOrganization(ctx)
	if err != nil {
		return nil, err
	}
	rootID, err := r.client.RootID(ctx)
	if err != nil {
		return nil, err
	}

	inv := &domain.Inventory{Organization: *org, RootID: rootID}

	accounts, err := r.client.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	accountNames := make(map[string]string, len(accounts))
	for _, a := range accounts {
		parentID, err := r.client.ParentOf(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("resolving parent of account %q: %w", a.Name, err)
		}
		a.ParentID = parentID
		accountNames[a.ID] = a.Name
	}
	inv.Accounts = accounts

	policies, err := r.readPolicies(ctx, withContent)
	if err != nil {
		return nil, err
	}
	inv.Policies = policies
	policyNames := make(map[string]string, len(policies))
	for _, p := range policies {
		policyNames[p.ID] = p.Name
	}

	root := &domain.OrganizationalUnit{ID: rootID, Name: domain.RootName}
	if err := r.readTree(ctx, inv, root, accountNames, policyNames); err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"accounts": len(inv.Accounts),
		"ous":      len(inv.OUs),
		"policies": len(inv.Policies),
	}).Debug("Read organization inventory")

	return inv, nil
}

// readTree walks the OU tree depth-first with an explicit stack.
func (r *Reader) readTree(ctx context.Context, inv *domain.Inventory, root *domain.OrganizationalUnit, accountNames, policyNames map[string]string) error {
	stack := []*domain.OrganizationalUnit{root}
	for len(stack) > 0 {
		ou := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := r.client.ListOrganizationalUnits(ctx, ou.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			ou.ChildNames = append(ou.ChildNames, child.Name)
		}

		members, err := r.client.ListAccountsForParent(ctx, ou.ID)
		if err != nil {
			return err
		}
		for _, a := range members {
			ou.AccountNames = append(ou.AccountNames, accountNames[a.ID])
		}

		attached, err := r.client.ListPoliciesForTarget(ctx, ou.ID)
		if err != nil {
			return err
		}
		for _, p := range attached {
			name, ok := policyNames[p.ID]
			if !ok {
				name = p.Name
			}
			ou.PolicyNames = append(ou.PolicyNames, name)
		}

		sort.Strings(ou.ChildNames)
		sort.Strings(ou.AccountNames)
		sort.Strings(ou.PolicyNames)
		inv.OUs = append(inv.OUs, ou)

		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

func (r *Reader) readPolicies(ctx context.Context, withContent bool) ([]*domain.Policy, error) {
	summaries, err := r.client.ListPolicies(ctx)
	if err != nil {
		return nil, err
	}
	policies := make([]*domain.Policy, 0, len(summaries))
	for _, s := range summaries {
		p := s
		if withContent {
			p, err = r.client.DescribePolicy(ctx, s.ID)
			if err != nil {
				return nil, err
			}
		}
		targets, err := r.client.ListTargetsForPolicy(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		p.Targets = targets
		policies = append(policies, p)
	}
	return policies, nil
}
