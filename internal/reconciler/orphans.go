package reconciler

import (
	"fmt"
	"sort"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

// managedNames is every name reachable from the spec.
type managedNames struct {
	accounts map[string]bool
	ous      map[string]bool
	policies map[string]bool
}

func managed(spec *domain.Spec) managedNames {
	m := managedNames{
		accounts: make(map[string]bool),
		ous:      make(map[string]bool),
		policies: map[string]bool{spec.DefaultPolicy: true},
	}
	root := spec.Root()
	for _, name := range root.AccountNames() {
		m.accounts[name] = true
	}
	for _, name := range root.OUNames() {
		m.ous[name] = true
	}
	for _, sp := range spec.SCPolicies {
		m.policies[sp.Name] = true
	}
	return m
}

// PlanOrphans reports live resources that the spec does not reach and plans
// moving every orphan account into the spec's default OU.
func PlanOrphans(spec *domain.Spec, inv *domain.Inventory) (*domain.Plan, *domain.OrphanReport) {
	plan := &domain.Plan{}
	report := &domain.OrphanReport{}
	m := managed(spec)

	var orphanAccounts []*domain.Account
	for _, a := range inv.Accounts {
		if !m.accounts[a.Name] {
			orphanAccounts = append(orphanAccounts, a)
			report.Accounts = append(report.Accounts, a.Name)
		}
	}
	for _, ou := range inv.OUs {
		if !m.ous[ou.Name] {
			report.OUs = append(report.OUs, ou.Name)
		}
	}
	for _, p := range inv.Policies {
		if !m.policies[p.Name] {
			report.Policies = append(report.Policies, p.Name)
		}
	}
	sort.Strings(report.Accounts)
	sort.Strings(report.OUs)
	sort.Strings(report.Policies)
	sort.SliceStable(orphanAccounts, func(i, j int) bool { return orphanAccounts[i].Name < orphanAccounts[j].Name })

	if len(orphanAccounts) == 0 {
		return plan, report
	}

	target, err := inv.OUByName(spec.DefaultOU)
	if err != nil {
		plan.Report(domain.NewProblem(domain.SeverityError, spec.DefaultOU, "",
			fmt.Errorf("cannot place %d unmanaged account(s) in default OU: %w", len(orphanAccounts), err)))
		return plan, report
	}

	for _, a := range orphanAccounts {
		if a.ParentID == target.ID {
			continue
		}
		plan.Add(domain.Operation{
			Kind:                domain.OpMoveAccount,
			Name:                a.Name,
			OU:                  target.Name,
			AccountID:           a.ID,
			SourceParentID:      a.ParentID,
			DestinationParentID: target.ID,
		})
	}
	return plan, report
}
