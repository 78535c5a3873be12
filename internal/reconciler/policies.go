// Package reconciler computes the operations that bring the live organization
// in line with a spec and applies them.
//
// Planning is pure: the Plan* functions read a spec and an inventory and
// return a domain.Plan. Only Applier talks to the API.
package reconciler

import (
	"errors"
	"fmt"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

// PlanPolicies plans create, update and delete operations for the spec's
// policies. The default policy is never touched. The inventory must have
// been read with policy content.
func PlanPolicies(spec *domain.Spec, inv *domain.Inventory) *domain.Plan {
	plan := &domain.Plan{}

	for _, sp := range spec.SCPolicies {
		if sp.Name == spec.DefaultPolicy {
			continue
		}

		live, err := inv.PolicyByName(sp.Name)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			plan.Report(domain.NewProblem(domain.SeverityError, sp.Name, "", err))
			continue
		}

		if sp.Absent() {
			if live == nil {
				continue
			}
			if len(live.Targets) > 0 {
				plan.Report(domain.NewProblem(domain.SeverityError, sp.Name, "",
					fmt.Errorf("policy %q is marked absent but still attached to %d target(s): %w",
						sp.Name, len(live.Targets), domain.ErrPreconditionFailed)))
				continue
			}
			plan.Add(domain.Operation{Kind: domain.OpDeletePolicy, Name: sp.Name, PolicyID: live.ID})
			continue
		}

		content, err := domain.RenderPolicyDocument(sp)
		if err != nil {
			plan.Report(domain.NewProblem(domain.SeverityError, sp.Name, "", fmt.Errorf("rendering policy %q: %w", sp.Name, err)))
			continue
		}

		if live == nil {
			plan.Add(domain.Operation{
				Kind:        domain.OpCreatePolicy,
				Name:        sp.Name,
				Description: sp.Description,
				Content:     content,
				Ref:         domain.PendingPolicyRef(sp.Name),
			})
			continue
		}

		if live.Description == sp.Description && domain.EquivalentDocuments(live.Content, content) {
			continue
		}
		plan.Add(domain.Operation{
			Kind:        domain.OpUpdatePolicy,
			Name:        sp.Name,
			PolicyID:    live.ID,
			Description: sp.Description,
			Content:     content,
		})
	}

	return plan
}
