package reconciler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/inventory"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
	"github.com/bcnelson/aws-org-manager/internal/reconciler"
)

func readInventory(t *testing.T, shim *organizations.FileShim) *domain.Inventory {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	inv, err := inventory.New(shim, log).Read(context.Background(), true)
	if err != nil {
		t.Fatalf("reading inventory: %v", err)
	}
	return inv
}

func TestPlanPolicies(t *testing.T) {
	denyDoc, err := domain.RenderPolicyDocument(domain.SpecPolicy{Effect: "Deny", Actions: []string{"*"}})
	if err != nil {
		t.Fatal(err)
	}
	reformatted := `{
  "Statement": [{"Resource": "*", "Action": ["*"], "Effect": "Deny"}],
  "Version": "2012-10-17"
}`

	tests := []struct {
		name     string
		live     *domain.Policy
		spec     domain.SpecPolicy
		wantKind domain.OperationKind
		wantErr  error
	}{
		{
			name:     "missing policy is created",
			spec:     domain.SpecPolicy{Name: "deny-root-user", Effect: "Deny", Actions: []string{"*"}},
			wantKind: domain.OpCreatePolicy,
		},
		{
			name: "identical policy is left alone",
			live: &domain.Policy{ID: "p-1", Name: "deny-root-user", Description: "d", Content: denyDoc},
			spec: domain.SpecPolicy{Name: "deny-root-user", Description: "d", Effect: "Deny", Actions: []string{"*"}},
		},
		{
			name: "formatting differences are not a change",
			live: &domain.Policy{ID: "p-1", Name: "deny-root-user", Description: "d", Content: reformatted},
			spec: domain.SpecPolicy{Name: "deny-root-user", Description: "d", Effect: "Deny", Actions: []string{"*"}},
		},
		{
			name:     "description change is an update",
			live:     &domain.Policy{ID: "p-1", Name: "deny-root-user", Description: "old", Content: denyDoc},
			spec:     domain.SpecPolicy{Name: "deny-root-user", Description: "new", Effect: "Deny", Actions: []string{"*"}},
			wantKind: domain.OpUpdatePolicy,
		},
		{
			name:     "document change is an update",
			live:     &domain.Policy{ID: "p-1", Name: "deny-root-user", Content: denyDoc},
			spec:     domain.SpecPolicy{Name: "deny-root-user", Effect: "Allow", Actions: []string{"*"}},
			wantKind: domain.OpUpdatePolicy,
		},
		{
			name:     "absent detached policy is deleted",
			live:     &domain.Policy{ID: "p-1", Name: "temp-policy", Content: denyDoc},
			spec:     domain.SpecPolicy{Name: "temp-policy", Ensure: domain.EnsureAbsent},
			wantKind: domain.OpDeletePolicy,
		},
		{
			name:    "absent attached policy is refused",
			live:    &domain.Policy{ID: "p-1", Name: "temp-policy", Content: denyDoc, Targets: []string{"ou-1"}},
			spec:    domain.SpecPolicy{Name: "temp-policy", Ensure: domain.EnsureAbsent},
			wantErr: domain.ErrPreconditionFailed,
		},
		{
			name: "absent missing policy is a no-op",
			spec: domain.SpecPolicy{Name: "temp-policy", Ensure: domain.EnsureAbsent},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &domain.Inventory{}
			if tt.live != nil {
				inv.Policies = []*domain.Policy{tt.live}
			}
			spec := &domain.Spec{DefaultPolicy: defaultPolicy, SCPolicies: []domain.SpecPolicy{tt.spec}}

			plan := reconciler.PlanPolicies(spec, inv)

			switch {
			case tt.wantKind != "":
				if len(plan.Operations) != 1 || plan.Operations[0].Kind != tt.wantKind {
					t.Errorf("expected one %s, got %+v", tt.wantKind, plan.Operations)
				}
			default:
				if !plan.Empty() {
					t.Errorf("expected no operations, got %+v", plan.Operations)
				}
			}
			if tt.wantErr != nil {
				if len(plan.Problems) != 1 || !errors.Is(plan.Problems[0].Err, tt.wantErr) {
					t.Errorf("expected a %v problem, got %+v", tt.wantErr, plan.Problems)
				}
			} else if len(plan.Problems) != 0 {
				t.Errorf("unexpected problems: %+v", plan.Problems)
			}
		})
	}
}

func TestPlanPolicies_DefaultPolicyUntouched(t *testing.T) {
	inv := &domain.Inventory{Policies: []*domain.Policy{
		{ID: "p-full", Name: defaultPolicy, Content: fullAccessDoc, Targets: []string{"r-root"}},
	}}
	spec := &domain.Spec{
		DefaultPolicy: defaultPolicy,
		SCPolicies:    []domain.SpecPolicy{{Name: defaultPolicy, Description: "changed", Effect: "Deny", Actions: []string{"s3:*"}}},
	}

	if plan := reconciler.PlanPolicies(spec, inv); !plan.Empty() || len(plan.Problems) != 0 {
		t.Errorf("default policy must never be planned, got %+v", plan)
	}
}

func TestPlanOUs_DefaultPolicyNeverDetached(t *testing.T) {
	state := liveOrg()
	state.Policies = append(state.Policies, &domain.Policy{ID: "p-x", Name: "extra", Content: fullAccessDoc, Targets: []string{"ou-quar"}})
	inv := readInventory(t, organizations.NewMemoryShim(state))

	// Neither root nor Quarantine lists any policy.
	plan := reconciler.PlanOUs(engineeringSpec(), inv)

	var detached []string
	for _, op := range plan.Operations {
		if op.Kind == domain.OpDetachPolicy || op.Kind == domain.OpDeletePolicy {
			detached = append(detached, op.Name+"@"+op.OU)
		}
	}
	if diff := cmp.Diff([]string{"extra@Quarantine"}, detached); diff != "" {
		t.Errorf("detach mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanOUs_PlannedChildDeleteDoesNotBlockParent(t *testing.T) {
	state := liveOrg()
	state.OUs = append(state.OUs,
		&organizations.ShimOU{ID: "ou-legacy", Name: "Legacy", ParentID: "r-root"},
		&organizations.ShimOU{ID: "ou-old", Name: "Old", ParentID: "ou-legacy"},
	)
	inv := readInventory(t, organizations.NewMemoryShim(state))

	spec := engineeringSpec()
	spec.Root().ChildOU = append(spec.Root().ChildOU, &domain.SpecOU{
		Name:    "Legacy",
		Ensure:  domain.EnsureAbsent,
		ChildOU: []*domain.SpecOU{{Name: "Old", Ensure: domain.EnsureAbsent}},
	})

	plan := reconciler.PlanOUs(spec, inv)

	var deletes []string
	for _, op := range plan.Operations {
		if op.Kind == domain.OpDeleteOU {
			deletes = append(deletes, op.Name)
		}
	}
	if diff := cmp.Diff([]string{"Old", "Legacy"}, deletes); diff != "" {
		t.Errorf("delete order mismatch (-want +got):\n%s", diff)
	}
	if len(plan.Problems) != 0 {
		t.Errorf("unexpected problems: %+v", plan.Problems)
	}
}

func TestPlanOUs_NestedCreateUsesPlaceholders(t *testing.T) {
	inv := readInventory(t, organizations.NewMemoryShim(liveOrg()))
	spec := engineeringSpec()
	spec.Root().ChildOU = append(spec.Root().ChildOU, &domain.SpecOU{
		Name:    "Platform",
		ChildOU: []*domain.SpecOU{{Name: "Shared", SCPolicies: []string{"deny-root-user"}}},
	})

	plan := reconciler.PlanOUs(spec, inv)

	platform := domain.PendingOURef("r-root", "Platform")
	shared := domain.PendingOURef(platform, "Shared")
	var got []domain.Operation
	for _, op := range plan.Operations {
		if op.Name == "Platform" || op.OU == "Platform" || op.OU == "Shared" {
			got = append(got, op)
		}
	}
	want := []domain.Operation{
		{Kind: domain.OpCreateOU, Name: "Platform", OU: domain.RootName, ParentID: "r-root", Ref: platform},
		{Kind: domain.OpCreateOU, Name: "Shared", OU: "Platform", ParentID: platform, Ref: shared},
		{Kind: domain.OpAttachPolicy, Name: "deny-root-user", OU: "Shared", PolicyID: domain.PendingPolicyRef("deny-root-user"), TargetID: shared},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("nested create mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanOUs_Problems(t *testing.T) {
	tests := []struct {
		name     string
		node     *domain.SpecOU
		resource string
		severity domain.Severity
		wantErr  error
	}{
		{
			name:     "undefined policy",
			node:     &domain.SpecOU{Name: "Quarantine", SCPolicies: []string{"nope"}},
			resource: "nope",
			severity: domain.SeverityError,
			wantErr:  domain.ErrNotFound,
		},
		{
			name:     "account not provisioned yet",
			node:     &domain.SpecOU{Name: "Quarantine", Accounts: []string{"not-yet"}},
			resource: "not-yet",
			severity: domain.SeverityWarning,
			wantErr:  domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := readInventory(t, organizations.NewMemoryShim(liveOrg()))
			spec := engineeringSpec()
			spec.Root().ChildOU[1] = tt.node

			plan := reconciler.PlanOUs(spec, inv)

			found := false
			for _, p := range plan.Problems {
				if p.Resource == tt.resource && p.OU == "Quarantine" && p.Severity == tt.severity && errors.Is(p.Err, tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected problem for %s, got %+v", tt.resource, plan.Problems)
			}
			for _, op := range plan.Operations {
				if op.Name == tt.resource {
					t.Errorf("unexpected operation for %s: %s", tt.resource, op)
				}
			}
		})
	}
}

func TestPlanOUs_AbsentPolicyCannotBeAttached(t *testing.T) {
	inv := readInventory(t, organizations.NewMemoryShim(liveOrg()))
	spec := engineeringSpec()
	spec.SCPolicies[0].Ensure = domain.EnsureAbsent

	plan := reconciler.PlanOUs(spec, inv)

	for _, op := range plan.Operations {
		if op.Kind == domain.OpAttachPolicy {
			t.Errorf("absent policy attached: %s", op)
		}
	}
	if len(plan.Problems) != 1 || !errors.Is(plan.Problems[0].Err, domain.ErrPreconditionFailed) {
		t.Errorf("expected one precondition problem, got %+v", plan.Problems)
	}
}

func TestPlanOrphans(t *testing.T) {
	state := liveOrg()
	state.OUs = append(state.OUs, &organizations.ShimOU{ID: "ou-stray", Name: "Stray", ParentID: "r-root"})
	state.Accounts = append(state.Accounts, &domain.Account{ID: "555555555555", Name: "parked", ParentID: "ou-quar"})
	state.Policies = append(state.Policies, &domain.Policy{ID: "p-old", Name: "old-policy", Content: fullAccessDoc})
	inv := readInventory(t, organizations.NewMemoryShim(state))

	plan, report := reconciler.PlanOrphans(engineeringSpec(), inv)

	want := &domain.OrphanReport{
		Accounts: []string{"legacy-acct", "parked"},
		OUs:      []string{"Stray"},
		Policies: []string{"old-policy"},
	}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("orphan report mismatch (-want +got):\n%s", diff)
	}

	// parked is already in Quarantine.
	wantOps := []domain.Operation{{
		Kind:                domain.OpMoveAccount,
		Name:                "legacy-acct",
		OU:                  "Quarantine",
		AccountID:           "333333333333",
		SourceParentID:      "r-root",
		DestinationParentID: "ou-quar",
	}}
	if diff := cmp.Diff(wantOps, plan.Operations); diff != "" {
		t.Errorf("orphan moves mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanOrphans_MissingDefaultOU(t *testing.T) {
	inv := readInventory(t, organizations.NewMemoryShim(liveOrg()))
	spec := engineeringSpec()
	spec.DefaultOU = "Nowhere"

	plan, report := reconciler.PlanOrphans(spec, inv)

	if !plan.Empty() {
		t.Errorf("expected no moves, got %+v", plan.Operations)
	}
	if len(plan.Problems) != 1 || !errors.Is(plan.Problems[0].Err, domain.ErrNotFound) {
		t.Errorf("expected a not-found problem, got %+v", plan.Problems)
	}
	if len(report.Accounts) != 1 {
		t.Errorf("orphans must still be reported, got %+v", report)
	}
}

func TestApply(t *testing.T) {
	shim := organizations.NewMemoryShim(liveOrg())
	log, _ := logtest.NewNullLogger()
	applier := reconciler.NewApplier(shim, defaultPolicy, log, nil)

	policyRef := domain.PendingPolicyRef("never-created")
	plan := &domain.Plan{Operations: []domain.Operation{
		{Kind: domain.OpDetachPolicy, Name: defaultPolicy, OU: "Quarantine", PolicyID: "p-full", TargetID: "ou-quar"},
		{Kind: domain.OpDeletePolicy, Name: defaultPolicy, PolicyID: "p-full"},
		{Kind: domain.OpCreateOU, Name: "Sandbox", OU: domain.RootName, ParentID: "r-root", Ref: domain.PendingOURef("r-root", "Sandbox")},
		{Kind: domain.OpMoveAccount, Name: "team-a", OU: "Sandbox", AccountID: "222222222222", SourceParentID: "r-root", DestinationParentID: domain.PendingOURef("r-root", "Sandbox")},
		{Kind: domain.OpAttachPolicy, Name: "never-created", OU: "Sandbox", PolicyID: policyRef, TargetID: domain.PendingOURef("r-root", "Sandbox")},
		{Kind: domain.OpMoveAccount, Name: "ghost", OU: "Quarantine", AccountID: "999999999999", SourceParentID: "r-root", DestinationParentID: "ou-quar"},
	}}

	res, err := applier.Apply(context.Background(), plan, domain.ModeExecute)
	if err == nil {
		t.Fatal("expected combined failures")
	}

	var statuses []string
	for _, op := range res.Operations {
		statuses = append(statuses, op.Status)
	}
	want := []string{
		domain.OpStatusFailed, domain.OpStatusFailed,
		domain.OpStatusApplied, domain.OpStatusApplied,
		domain.OpStatusSkipped, domain.OpStatusFailed,
	}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}

	for _, c := range shim.Calls() {
		if c.Kind == string(domain.OpDetachPolicy) || c.Kind == string(domain.OpDeletePolicy) {
			t.Errorf("default policy call issued: %+v", c)
		}
	}
	sandbox := ouID(t, shim, "Sandbox")
	if res.Operations[2].ID != sandbox {
		t.Errorf("created id = %s, want %s", res.Operations[2].ID, sandbox)
	}
	if got := parentOf(t, shim, "team-a"); got != sandbox {
		t.Errorf("team-a parent = %s, want %s", got, sandbox)
	}
}

func TestApply_DryRun(t *testing.T) {
	shim := organizations.NewMemoryShim(liveOrg())
	log, _ := logtest.NewNullLogger()
	applier := reconciler.NewApplier(shim, defaultPolicy, log, nil)

	plan := &domain.Plan{Operations: []domain.Operation{
		{Kind: domain.OpCreateOU, Name: "Sandbox", OU: domain.RootName, ParentID: "r-root", Ref: domain.PendingOURef("r-root", "Sandbox")},
		{Kind: domain.OpMoveAccount, Name: "team-a", OU: "Sandbox", AccountID: "222222222222", SourceParentID: "r-root", DestinationParentID: domain.PendingOURef("r-root", "Sandbox")},
	}}

	res, err := applier.Apply(context.Background(), plan, domain.ModeDryRun)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if res.Count(domain.OpStatusPlanned) != 2 {
		t.Errorf("expected 2 planned operations, got %+v", res.Operations)
	}
	if calls := shim.Calls(); len(calls) != 0 {
		t.Errorf("dry-run issued calls: %+v", calls)
	}
}
