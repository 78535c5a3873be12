package organizations

import (
	"context"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

// Reader is the read-only half of the Organizations control plane.
type Reader interface {
	DescribeOrganization(ctx context.Context) (*domain.Organization, error)
	RootID(ctx context.Context) (string, error)
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	ListOrganizationalUnits(ctx context.Context, parentID string) ([]*domain.OrganizationalUnit, error)
	ListAccountsForParent(ctx context.Context, parentID string) ([]*domain.Account, error)
	// ParentOf returns the single parent of an account or OU.
	// More than one parent is a domain.ErrDataIntegrity failure.
	ParentOf(ctx context.Context, childID string) (string, error)
	ListPolicies(ctx context.Context) ([]*domain.Policy, error)
	DescribePolicy(ctx context.Context, policyID string) (*domain.Policy, error)
	ListPoliciesForTarget(ctx context.Context, targetID string) ([]*domain.Policy, error)
	ListTargetsForPolicy(ctx context.Context, policyID string) ([]string, error)
	ListCreateAccountStatus(ctx context.Context, states ...domain.CreateAccountState) ([]*domain.CreateAccountStatus, error)
	DescribeCreateAccountStatus(ctx context.Context, requestID string) (*domain.CreateAccountStatus, error)
}

// Client is the full Organizations control plane used by the reconciler.
type Client interface {
	Reader

	CreatePolicy(ctx context.Context, name, description, content string) (string, error)
	UpdatePolicy(ctx context.Context, policyID, description, content string) error
	DeletePolicy(ctx context.Context, policyID string) error
	AttachPolicy(ctx context.Context, policyID, targetID string) error
	DetachPolicy(ctx context.Context, policyID, targetID string) error
	CreateOrganizationalUnit(ctx context.Context, parentID, name string) (string, error)
	DeleteOrganizationalUnit(ctx context.Context, ouID string) error
	MoveAccount(ctx context.Context, accountID, sourceParentID, destinationParentID string) error
	CreateAccount(ctx context.Context, name, email string) (*domain.CreateAccountStatus, error)
	// EnableServiceControlPolicies enables the SCP policy type in the root if needed.
	EnableServiceControlPolicies(ctx context.Context, rootID string) error
}
