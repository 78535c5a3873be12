package organizations_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aws/smithy-go"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"throttling", &smithy.GenericAPIError{Code: "TooManyRequestsException"}, true},
		{"concurrent modification", &smithy.GenericAPIError{Code: "ConcurrentModificationException"}, true},
		{"wrapped service exception", fmt.Errorf("creating account: %w", &smithy.GenericAPIError{Code: "ServiceException"}), true},
		{"constraint violation", &smithy.GenericAPIError{Code: "ConstraintViolationException"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := organizations.IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFileShimPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "org.json")

	shim, err := organizations.NewFileShim(path)
	if err != nil {
		t.Fatalf("NewFileShim failed: %v", err)
	}
	rootID, err := shim.RootID(ctx)
	if err != nil {
		t.Fatalf("RootID failed: %v", err)
	}
	ouID, err := shim.CreateOrganizationalUnit(ctx, rootID, "Engineering")
	if err != nil {
		t.Fatalf("CreateOrganizationalUnit failed: %v", err)
	}

	reopened, err := organizations.NewFileShim(path)
	if err != nil {
		t.Fatalf("reopening shim failed: %v", err)
	}
	ous, err := reopened.ListOrganizationalUnits(ctx, rootID)
	if err != nil {
		t.Fatalf("ListOrganizationalUnits failed: %v", err)
	}
	if len(ous) != 1 || ous[0].ID != ouID || ous[0].Name != "Engineering" {
		t.Errorf("reopened units = %+v, want Engineering %s", ous, ouID)
	}
}

func TestFileShimGuards(t *testing.T) {
	ctx := context.Background()
	shim := organizations.NewMemoryShim(&organizations.ShimState{
		MasterAccountID: "111111111111",
		Accounts: []*domain.Account{
			{ID: "111111111111", Name: "master", ParentID: "r-root"},
			{ID: "222222222222", Name: "team-a", ParentID: "ou-1"},
		},
		OUs: []*organizations.ShimOU{{ID: "ou-1", Name: "Engineering", ParentID: "r-root"}},
		Policies: []*domain.Policy{
			{ID: "p-full", Name: "FullAWSAccess", Type: domain.PolicyTypeServiceControl, Targets: []string{"r-root", "ou-1"}},
		},
		AutoAttachPolicyID: "p-full",
	})

	var apiErr smithy.APIError
	err := shim.DeleteOrganizationalUnit(ctx, "ou-1")
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "OrganizationalUnitNotEmptyException" {
		t.Errorf("deleting non-empty unit: error = %v, want OrganizationalUnitNotEmptyException", err)
	}

	err = shim.DeletePolicy(ctx, "p-full")
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "PolicyInUseException" {
		t.Errorf("deleting attached policy: error = %v, want PolicyInUseException", err)
	}

	err = shim.MoveAccount(ctx, "222222222222", "r-root", "ou-1")
	if !errors.As(err, &apiErr) || apiErr.ErrorCode() != "SourceParentNotFoundException" {
		t.Errorf("moving from wrong source: error = %v, want SourceParentNotFoundException", err)
	}

	ouID, err := shim.CreateOrganizationalUnit(ctx, "r-root", "Sandbox")
	if err != nil {
		t.Fatalf("CreateOrganizationalUnit failed: %v", err)
	}
	attached, err := shim.ListPoliciesForTarget(ctx, ouID)
	if err != nil {
		t.Fatalf("ListPoliciesForTarget failed: %v", err)
	}
	if len(attached) != 1 || attached[0].Name != "FullAWSAccess" {
		t.Errorf("new unit policies = %+v, want FullAWSAccess auto-attached", attached)
	}

	calls := shim.Calls()
	if len(calls) != 1 || calls[0].Kind != string(domain.OpCreateOU) {
		t.Errorf("calls = %+v, want only the unit creation recorded", calls)
	}
}

func TestFileShimCreateAccount(t *testing.T) {
	ctx := context.Background()
	shim := organizations.NewMemoryShim(&organizations.ShimState{})
	shim.CompleteAfterPolls = 1
	shim.FailReasons = map[string]string{"bad": "EMAIL_ALREADY_EXISTS"}

	status, err := shim.CreateAccount(ctx, "good", "good@example.com")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	if status.State != domain.CreateAccountInProgress {
		t.Fatalf("initial state = %s, want IN_PROGRESS", status.State)
	}

	pending, err := shim.ListCreateAccountStatus(ctx, domain.CreateAccountInProgress)
	if err != nil {
		t.Fatalf("ListCreateAccountStatus failed: %v", err)
	}
	if len(pending) != 1 || pending[0].AccountName != "good" {
		t.Errorf("pending = %+v, want the good request", pending)
	}

	first, err := shim.DescribeCreateAccountStatus(ctx, status.RequestID)
	if err != nil {
		t.Fatalf("DescribeCreateAccountStatus failed: %v", err)
	}
	if first.State != domain.CreateAccountInProgress {
		t.Errorf("state after first poll = %s, want IN_PROGRESS", first.State)
	}
	second, err := shim.DescribeCreateAccountStatus(ctx, status.RequestID)
	if err != nil {
		t.Fatalf("DescribeCreateAccountStatus failed: %v", err)
	}
	if second.State != domain.CreateAccountSucceeded || second.AccountID == "" {
		t.Errorf("state after second poll = %+v, want SUCCEEDED with an account id", second)
	}

	bad, err := shim.CreateAccount(ctx, "bad", "bad@example.com")
	if err != nil {
		t.Fatalf("CreateAccount failed: %v", err)
	}
	failed, err := shim.DescribeCreateAccountStatus(ctx, bad.RequestID)
	if err != nil {
		t.Fatalf("DescribeCreateAccountStatus failed: %v", err)
	}
	if failed.State != domain.CreateAccountFailed || failed.FailureReason != "EMAIL_ALREADY_EXISTS" {
		t.Errorf("failed request = %+v, want FAILED with EMAIL_ALREADY_EXISTS", failed)
	}

	accounts, err := shim.ListAccounts(ctx)
	if err != nil {
		t.Fatalf("ListAccounts failed: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Name != "good" {
		t.Errorf("accounts = %+v, want only good", accounts)
	}
}
