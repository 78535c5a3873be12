package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	orgs "github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

// AWSClient talks to the AWS Organizations API.
type AWSClient struct {
	api     *orgs.Client
	limiter *rate.Limiter
}

// Ensure AWSClient implements Client.
var _ Client = (*AWSClient)(nil)

// New creates a client from the default AWS credential chain.
// region and profile may be empty. ratePerSecond bounds the request rate;
// Organizations throttles aggressively and a whole run is sequential anyway.
func New(ctx context.Context, region, profile string, ratePerSecond float64, burst int) (*AWSClient, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &AWSClient{
		api:     orgs.NewFromConfig(cfg),
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}, nil
}

func (c *AWSClient) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// DescribeOrganization returns the organization id and its master account id.
func (c *AWSClient) DescribeOrganization(ctx context.Context) (*domain.Organization, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeOrganization(ctx, &orgs.DescribeOrganizationInput{})
	if err != nil {
		return nil, fmt.Errorf("describing organization: %w", err)
	}
	return &domain.Organization{
		ID:              aws.ToString(out.Organization.Id),
		MasterAccountID: aws.ToString(out.Organization.MasterAccountId),
	}, nil
}

// RootID returns the id of the single organization root.
func (c *AWSClient) RootID(ctx context.Context) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	out, err := c.api.ListRoots(ctx, &orgs.ListRootsInput{})
	if err != nil {
		return "", fmt.Errorf("listing roots: %w", err)
	}
	if len(out.Roots) != 1 {
		return "", fmt.Errorf("organization has %d roots: %w", len(out.Roots), domain.ErrDataIntegrity)
	}
	return aws.ToString(out.Roots[0].Id), nil
}

// ListAccounts lists every account in the organization.
func (c *AWSClient) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	var accounts []*domain.Account
	p := orgs.NewListAccountsPaginator(c.api, &orgs.ListAccountsInput{})
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		for _, a := range page.Accounts {
			accounts = append(accounts, toAccount(a))
		}
	}
	return accounts, nil
}

// ListOrganizationalUnits lists the direct child units of parentID.
func (c *AWSClient) ListOrganizationalUnits(ctx context.Context, parentID string) ([]*domain.OrganizationalUnit, error) {
	var units []*domain.OrganizationalUnit
	p := orgs.NewListOrganizationalUnitsForParentPaginator(c.api, &orgs.ListOrganizationalUnitsForParentInput{
		ParentId: aws.String(parentID),
	})
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing organizational units for %s: %w", parentID, err)
		}
		for _, ou := range page.OrganizationalUnits {
			units = append(units, &domain.OrganizationalUnit{
				ID:       aws.ToString(ou.Id),
				Name:     aws.ToString(ou.Name),
				ParentID: parentID,
			})
		}
	}
	return units, nil
}

// ListAccountsForParent lists the accounts directly under parentID.
func (c *AWSClient) ListAccountsForParent(ctx context.Context, parentID string) ([]*domain.Account, error) {
	var accounts []*domain.Account
	p := orgs.NewListAccountsForParentPaginator(c.api, &orgs.ListAccountsForParentInput{
		ParentId: aws.String(parentID),
	})
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing accounts for %s: %w", parentID, err)
		}
		for _, a := range page.Accounts {
			acct := toAccount(a)
			acct.ParentID = parentID
			accounts = append(accounts, acct)
		}
	}
	return accounts, nil
}

// ParentOf returns the single parent of childID.
func (c *AWSClient) ParentOf(ctx context.Context, childID string) (string, error) {
	var parents []types.Parent
	p := orgs.NewListParentsPaginator(c.api, &orgs.ListParentsInput{ChildId: aws.String(childID)})
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return "", err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("listing parents of %s: %w", childID, err)
		}
		parents = append(parents, page.Parents...)
	}
	if len(parents) != 1 {
		return "", fmt.Errorf("%s has %d parents: %w", childID, len(parents), domain.ErrDataIntegrity)
	}
	return aws.ToString(parents[0].Id), nil
}

// ListPolicies lists the service control policies without their content.
func (c *AWSClient) ListPolicies(ctx context.Context) ([]*domain.Policy, error) {
	var policies []*domain.Policy
	p := orgs.NewListPoliciesPaginator(c.api, &orgs.ListPoliciesInput{
		Filter: types.PolicyTypeServiceControlPolicy,
	})
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing policies: %w", err)
		}
		for _, s := range page.Policies {
			policies = append(policies, toPolicy(s))
		}
	}
	return policies, nil
}

// DescribePolicy returns a policy including its document.
func (c *AWSClient) DescribePolicy(ctx context.Context, policyID string) (*domain.Policy, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.api.DescribePolicy(ctx, &orgs.DescribePolicyInput{PolicyId: aws.String(policyID)})
	if err != nil {
		return nil, fmt.Errorf("describing policy %s: %w", policyID, err)
	}
	if out.Policy == nil || out.Policy.PolicySummary == nil {
		return nil, fmt.Errorf("policy %s: %w", policyID, domain.ErrNotFound)
	}
	policy := toPolicy(*out.Policy.PolicySummary)
	policy.Content = aws.ToString(out.Policy.Content)
	return policy, nil
}

// ListPoliciesForTarget lists the service control policies attached to targetID.
func (c *AWSClient) ListPoliciesForTarget(ctx context.Context, targetID string) ([]*domain.Policy, error) {
	var policies []*domain.Policy
	p := orgs.NewListPoliciesForTargetPaginator(c.api, &orgs.ListPoliciesForTargetInput{
		TargetId: aws.String(targetID),
		Filter:   types.PolicyTypeServiceControlPolicy,
	})
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing policies for %s: %w", targetID, err)
		}
		for _, s := range page.Policies {
			policies = append(policies, toPolicy(s))
		}
	}
	return policies, nil
}

// ListTargetsForPolicy lists the ids of every root, OU or account the policy is attached to.
func (c *AWSClient) ListTargetsForPolicy(ctx context.Context, policyID string) ([]string, error) {
	var targets []string
	p := orgs.NewListTargetsForPolicyPaginator(c.api, &orgs.ListTargetsForPolicyInput{
		PolicyId: aws.String(policyID),
	})
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing targets for policy %s: %w", policyID, err)
		}
		for _, t := range page.Targets {
			targets = append(targets, aws.ToString(t.TargetId))
		}
	}
	return targets, nil
}

// ListCreateAccountStatus lists create-account requests in the given states.
func (c *AWSClient) ListCreateAccountStatus(ctx context.Context, states ...domain.CreateAccountState) ([]*domain.CreateAccountStatus, error) {
	in := &orgs.ListCreateAccountStatusInput{}
	for _, s := range states {
		in.States = append(in.States, types.CreateAccountState(s))
	}
	var statuses []*domain.CreateAccountStatus
	p := orgs.NewListCreateAccountStatusPaginator(c.api, in)
	for p.HasMorePages() {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing create account status: %w", err)
		}
		for _, s := range page.CreateAccountStatuses {
			statuses = append(statuses, toCreateAccountStatus(s))
		}
	}
	return statuses, nil
}

// DescribeCreateAccountStatus returns the state of one create-account request.
func (c *AWSClient) DescribeCreateAccountStatus(ctx context.Context, requestID string) (*domain.CreateAccountStatus, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.api.DescribeCreateAccountStatus(ctx, &orgs.DescribeCreateAccountStatusInput{
		CreateAccountRequestId: aws.String(requestID),
	})
	if err != nil {
		return nil, fmt.Errorf("describing create account status %s: %w", requestID, err)
	}
	if out.CreateAccountStatus == nil {
		return nil, fmt.Errorf("create account request %s: %w", requestID, domain.ErrNotFound)
	}
	return toCreateAccountStatus(*out.CreateAccountStatus), nil
}

// CreatePolicy creates a service control policy and returns its id.
func (c *AWSClient) CreatePolicy(ctx context.Context, name, description, content string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	out, err := c.api.CreatePolicy(ctx, &orgs.CreatePolicyInput{
		Name:        aws.String(name),
		Description: aws.String(description),
		Content:     aws.String(content),
		Type:        types.PolicyTypeServiceControlPolicy,
	})
	if err != nil {
		return "", fmt.Errorf("creating policy %s: %w", name, err)
	}
	return aws.ToString(out.Policy.PolicySummary.Id), nil
}

// UpdatePolicy replaces the description and document of a policy.
func (c *AWSClient) UpdatePolicy(ctx context.Context, policyID, description, content string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.UpdatePolicy(ctx, &orgs.UpdatePolicyInput{
		PolicyId:    aws.String(policyID),
		Description: aws.String(description),
		Content:     aws.String(content),
	})
	if err != nil {
		return fmt.Errorf("updating policy %s: %w", policyID, err)
	}
	return nil
}

// DeletePolicy deletes a detached policy.
func (c *AWSClient) DeletePolicy(ctx context.Context, policyID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, err := c.api.DeletePolicy(ctx, &orgs.DeletePolicyInput{PolicyId: aws.String(policyID)}); err != nil {
		return fmt.Errorf("deleting policy %s: %w", policyID, err)
	}
	return nil
}

// AttachPolicy attaches a policy to a root, OU or account.
func (c *AWSClient) AttachPolicy(ctx context.Context, policyID, targetID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.AttachPolicy(ctx, &orgs.AttachPolicyInput{
		PolicyId: aws.String(policyID),
		TargetId: aws.String(targetID),
	})
	if err != nil {
		return fmt.Errorf("attaching policy %s to %s: %w", policyID, targetID, err)
	}
	return nil
}

// DetachPolicy detaches a policy from a root, OU or account.
func (c *AWSClient) DetachPolicy(ctx context.Context, policyID, targetID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.DetachPolicy(ctx, &orgs.DetachPolicyInput{
		PolicyId: aws.String(policyID),
		TargetId: aws.String(targetID),
	})
	if err != nil {
		return fmt.Errorf("detaching policy %s from %s: %w", policyID, targetID, err)
	}
	return nil
}

// CreateOrganizationalUnit creates a unit under parentID and returns its id.
func (c *AWSClient) CreateOrganizationalUnit(ctx context.Context, parentID, name string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	out, err := c.api.CreateOrganizationalUnit(ctx, &orgs.CreateOrganizationalUnitInput{
		ParentId: aws.String(parentID),
		Name:     aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("creating organizational unit %s: %w", name, err)
	}
	return aws.ToString(out.OrganizationalUnit.Id), nil
}

// DeleteOrganizationalUnit deletes an empty unit.
func (c *AWSClient) DeleteOrganizationalUnit(ctx context.Context, ouID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.DeleteOrganizationalUnit(ctx, &orgs.DeleteOrganizationalUnitInput{
		OrganizationalUnitId: aws.String(ouID),
	})
	if err != nil {
		return fmt.Errorf("deleting organizational unit %s: %w", ouID, err)
	}
	return nil
}

// MoveAccount moves an account between parents.
func (c *AWSClient) MoveAccount(ctx context.Context, accountID, sourceParentID, destinationParentID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.api.MoveAccount(ctx, &orgs.MoveAccountInput{
		AccountId:           aws.String(accountID),
		SourceParentId:      aws.String(sourceParentID),
		DestinationParentId: aws.String(destinationParentID),
	})
	if err != nil {
		return fmt.Errorf("moving account %s: %w", accountID, err)
	}
	return nil
}

// CreateAccount submits an asynchronous create-account request.
func (c *AWSClient) CreateAccount(ctx context.Context, name, email string) (*domain.CreateAccountStatus, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out, err := c.api.CreateAccount(ctx, &orgs.CreateAccountInput{
		AccountName: aws.String(name),
		Email:       aws.String(email),
	})
	if err != nil {
		return nil, fmt.Errorf("creating account %s: %w", name, err)
	}
	return toCreateAccountStatus(*out.CreateAccountStatus), nil
}

// EnableServiceControlPolicies enables the SCP policy type in the root when it is not enabled.
func (c *AWSClient) EnableServiceControlPolicies(ctx context.Context, rootID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	out, err := c.api.ListRoots(ctx, &orgs.ListRootsInput{})
	if err != nil {
		return fmt.Errorf("listing roots: %w", err)
	}
	for _, root := range out.Roots {
		if aws.ToString(root.Id) != rootID {
			continue
		}
		for _, pt := range root.PolicyTypes {
			if pt.Type == types.PolicyTypeServiceControlPolicy && pt.Status == types.PolicyTypeStatusEnabled {
				return nil
			}
		}
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err = c.api.EnablePolicyType(ctx, &orgs.EnablePolicyTypeInput{
		RootId:     aws.String(rootID),
		PolicyType: types.PolicyTypeServiceControlPolicy,
	})
	if err != nil {
		return fmt.Errorf("enabling service control policies: %w", err)
	}
	return nil
}

// transientCodes are the API error codes worth retrying with a fixed delay.
var transientCodes = map[string]bool{
	"TooManyRequestsException":        true,
	"ThrottlingException":             true,
	"ConcurrentModificationException": true,
	"ServiceException":                true,
}

// IsTransient reports whether err is a throttling or temporary provider error.
func IsTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return transientCodes[apiErr.ErrorCode()]
	}
	return false
}

func toAccount(a types.Account) *domain.Account {
	return &domain.Account{
		ID:     aws.ToString(a.Id),
		Name:   aws.ToString(a.Name),
		Email:  aws.ToString(a.Email),
		Status: string(a.Status),
	}
}

func toPolicy(s types.PolicySummary) *domain.Policy {
	return &domain.Policy{
		ID:          aws.ToString(s.Id),
		Name:        aws.ToString(s.Name),
		Description: aws.ToString(s.Description),
		Type:        string(s.Type),
		AWSManaged:  s.AwsManaged,
	}
}

func toCreateAccountStatus(s types.CreateAccountStatus) *domain.CreateAccountStatus {
	return &domain.CreateAccountStatus{
		RequestID:     aws.ToString(s.Id),
		AccountName:   aws.ToString(s.AccountName),
		State:         domain.CreateAccountState(s.State),
		AccountID:     aws.ToString(s.AccountId),
		FailureReason: string(s.FailureReason),
	}
}
