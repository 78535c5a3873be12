package reconciler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

// ouPlanner carries the state of one PlanOUs call. It is never reused.
type ouPlanner struct {
	spec *domain.Spec
	inv  *domain.Inventory
	plan *domain.Plan
	// deleting holds the ids of OUs whose delete is already in the plan.
	deleting map[string]bool
}

// PlanOUs walks the spec tree depth-first from root and plans OU creates and
// deletes, policy attachments and account moves.
//
// Existing units have their spec children handled before themselves, so a
// parent delete is considered after its children's deletes. A unit that has
// to be created is followed immediately by its attachments, its account
// moves and its whole subtree, all addressed through the placeholder id of
// the create.
func PlanOUs(spec *domain.Spec, inv *domain.Inventory) *domain.Plan {
	p := &ouPlanner{
		spec:     spec,
		inv:      inv,
		plan:     &domain.Plan{},
		deleting: make(map[string]bool),
	}

	node := spec.Root()
	if node == nil {
		p.plan.Report(domain.NewProblem(domain.SeverityError, domain.RootName, "",
			fmt.Errorf("spec has no root unit: %w", domain.ErrInvalidSpec)))
		return p.plan
	}
	root, err := inv.Root()
	if err != nil {
		p.plan.Report(domain.NewProblem(domain.SeverityError, domain.RootName, "", err))
		return p.plan
	}

	p.existing(node, root, "")
	return p.plan
}

// child reconciles one spec node under the unit parentID.
func (p *ouPlanner) child(node *domain.SpecOU, parentID, parentName string) {
	if domain.IsPending(parentID) {
		p.create(node, parentID, parentName)
		return
	}

	live, err := p.inv.ChildOU(parentID, node.Name)
	switch {
	case err == nil:
		p.existing(node, live, parentName)
	case errors.Is(err, domain.ErrNotFound):
		p.create(node, parentID, parentName)
	default:
		// Ambiguous name: the whole branch is left alone.
		p.plan.Report(domain.NewProblem(domain.SeverityError, node.Name, parentName, err))
	}
}

func (p *ouPlanner) existing(node *domain.SpecOU, live *domain.OrganizationalUnit, parentName string) {
	for _, c := range node.ChildOU {
		p.child(c, live.ID, live.Name)
	}

	if node.Absent() {
		p.delete(node, live, parentName)
		return
	}
	p.attachments(node, live.ID, live.Name, live.PolicyNames)
	p.placement(node, live.ID, live.Name)
}

func (p *ouPlanner) create(node *domain.SpecOU, parentID, parentName string) {
	if node.Absent() {
		return
	}

	ref := domain.PendingOURef(parentID, node.Name)
	p.plan.Add(domain.Operation{
		Kind:     domain.OpCreateOU,
		Name:     node.Name,
		OU:       parentName,
		ParentID: parentID,
		Ref:      ref,
	})

	p.attachments(node, ref, node.Name, p.autoAttached())
	p.placement(node, ref, node.Name)
	for _, c := range node.ChildOU {
		p.child(c, ref, node.Name)
	}
}

// autoAttached is what a new unit carries right after its create: the
// provider's managed policy, when the organization has it.
func (p *ouPlanner) autoAttached() []string {
	if _, err := p.inv.PolicyByName(domain.AutoAttachedPolicy); err != nil {
		return nil
	}
	return []string{domain.AutoAttachedPolicy}
}

func (p *ouPlanner) delete(node *domain.SpecOU, live *domain.OrganizationalUnit, parentName string) {
	var blockers []string
	if n := len(live.AccountNames); n > 0 {
		blockers = append(blockers, fmt.Sprintf("%d member account(s)", n))
	}
	children := 0
	for _, c := range p.inv.Children(live.ID) {
		if !p.deleting[c.ID] {
			children++
		}
	}
	if children > 0 {
		blockers = append(blockers, fmt.Sprintf("%d child unit(s)", children))
	}
	var policies []string
	for _, name := range live.PolicyNames {
		if name != p.spec.DefaultPolicy {
			policies = append(policies, name)
		}
	}
	if len(policies) > 0 {
		blockers = append(blockers, "attached policies "+strings.Join(policies, ", "))
	}

	if len(blockers) > 0 {
		p.plan.Report(domain.NewProblem(domain.SeverityError, node.Name, parentName,
			fmt.Errorf("organizational unit %q is marked absent but has %s: %w",
				node.Name, strings.Join(blockers, " and "), domain.ErrPreconditionFailed)))
		return
	}

	p.deleting[live.ID] = true
	p.plan.Add(domain.Operation{
		Kind: domain.OpDeleteOU,
		Name: node.Name,
		OU:   parentName,
		OUID: live.ID,
	})
}

// attachments plans attach and detach operations for one unit. attached is
// the set of policy names currently on the unit.
func (p *ouPlanner) attachments(node *domain.SpecOU, targetID, ouName string, attached []string) {
	current := make(map[string]bool, len(attached))
	for _, name := range attached {
		current[name] = true
	}
	desired := make(map[string]bool, len(node.SCPolicies))

	for _, name := range node.SCPolicies {
		if desired[name] {
			continue
		}
		desired[name] = true
		if current[name] {
			continue
		}
		policyID, err := p.policyID(name)
		if err != nil {
			p.plan.Report(domain.NewProblem(domain.SeverityError, name, ouName, err))
			continue
		}
		p.plan.Add(domain.Operation{
			Kind:     domain.OpAttachPolicy,
			Name:     name,
			OU:       ouName,
			PolicyID: policyID,
			TargetID: targetID,
		})
	}

	stale := make([]string, 0, len(attached))
	for _, name := range attached {
		if !desired[name] && name != p.spec.DefaultPolicy {
			stale = append(stale, name)
		}
	}
	sort.Strings(stale)
	for _, name := range stale {
		live, err := p.inv.PolicyByName(name)
		if err != nil {
			p.plan.Report(domain.NewProblem(domain.SeverityError, name, ouName, err))
			continue
		}
		p.plan.Add(domain.Operation{
			Kind:     domain.OpDetachPolicy,
			Name:     name,
			OU:       ouName,
			PolicyID: live.ID,
			TargetID: targetID,
		})
	}
}

// policyID resolves a policy name to attach. A policy declared in the spec
// but not live yet resolves to the placeholder of its create.
func (p *ouPlanner) policyID(name string) (string, error) {
	sp, declared := p.spec.Policy(name)
	if declared && sp.Absent() {
		return "", fmt.Errorf("policy %q is marked absent and cannot be attached: %w", name, domain.ErrPreconditionFailed)
	}
	live, err := p.inv.PolicyByName(name)
	switch {
	case err == nil:
		return live.ID, nil
	case !errors.Is(err, domain.ErrNotFound):
		return "", err
	case declared:
		return domain.PendingPolicyRef(name), nil
	default:
		return "", fmt.Errorf("policy %q is not defined: %w", name, domain.ErrNotFound)
	}
}

// placement plans a move for every spec account that is not under targetID.
func (p *ouPlanner) placement(node *domain.SpecOU, targetID, ouName string) {
	for _, name := range node.Accounts {
		acct, err := p.inv.AccountByName(name)
		if errors.Is(err, domain.ErrNotFound) {
			p.plan.Report(domain.NewProblem(domain.SeverityWarning, name, ouName,
				fmt.Errorf("account %q does not exist yet: %w", name, domain.ErrNotFound)))
			continue
		}
		if err != nil {
			p.plan.Report(domain.NewProblem(domain.SeverityError, name, ouName, err))
			continue
		}
		if acct.ParentID == targetID {
			continue
		}
		p.plan.Add(domain.Operation{
			Kind:                domain.OpMoveAccount,
			Name:                name,
			OU:                  ouName,
			AccountID:           acct.ID,
			SourceParentID:      acct.ParentID,
			DestinationParentID: targetID,
		})
	}
}
