package organizations

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/aws/smithy-go"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

// ShimState is the organization held by a FileShim. It is also the on-disk format.
type ShimState struct {
	OrganizationID  string                `json:"organization_id"`
	MasterAccountID string                `json:"master_account_id"`
	RootID          string                `json:"root_id"`
	Accounts        []*domain.Account     `json:"accounts"`
	OUs             []*ShimOU             `json:"organizational_units"`
	Policies        []*domain.Policy      `json:"policies"`
	Requests        []*ShimAccountRequest `json:"create_account_requests,omitempty"`
	// AutoAttachPolicyID is attached to every new OU, like FullAWSAccess is.
	AutoAttachPolicyID string `json:"auto_attach_policy_id,omitempty"`
	Seq                int    `json:"seq"`
}

// ShimOU is an organizational unit held by a FileShim.
type ShimOU struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id"`
}

// ShimAccountRequest is a create-account request held by a FileShim.
type ShimAccountRequest struct {
	Status domain.CreateAccountStatus `json:"status"`
	Email  string                     `json:"email"`
	Polls  int                        `json:"polls"`
}

// Call is a mutating call recorded by a FileShim.
type Call struct {
	Kind string
	Args []string
}

// FileShim is an in-memory organization, optionally persisted to a JSON file.
// It stands in for the AWS API in tests and offline runs.
type FileShim struct {
	filePath string
	mu       sync.Mutex
	state    *ShimState
	calls    []Call

	// CompleteAfterPolls is the number of status polls a create-account request
	// stays IN_PROGRESS before it succeeds.
	CompleteAfterPolls int
	// FailReasons makes create-account requests for these names fail.
	FailReasons map[string]string
	// ThrottleCreateAccount rejects this many CreateAccount calls with a throttling error first.
	ThrottleCreateAccount int
}

// Ensure FileShim implements Client.
var _ Client = (*FileShim)(nil)

// NewFileShim loads an organization from filePath. A missing file yields an
// empty organization with only a root. Mutations are written back to the file.
func NewFileShim(filePath string) (*FileShim, error) {
	state := &ShimState{
		OrganizationID:  "o-shim",
		MasterAccountID: "000000000000",
		RootID:          "r-root",
	}
	data, err := os.ReadFile(filePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading organization file: %w", err)
	}
	if err == nil {
		if err := json.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("parsing organization file: %w", err)
		}
	}
	return &FileShim{filePath: filePath, state: state}, nil
}

// NewMemoryShim wraps state without any backing file.
func NewMemoryShim(state *ShimState) *FileShim {
	if state.RootID == "" {
		state.RootID = "r-root"
	}
	return &FileShim{state: state}
}

// State returns a deep copy of the current organization.
func (f *FileShim) State() *ShimState {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := json.Marshal(f.state)
	var out ShimState
	_ = json.Unmarshal(data, &out)
	return &out
}

// Calls returns the mutating calls issued so far.
func (f *FileShim) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// ResetCalls forgets the recorded calls.
func (f *FileShim) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FileShim) record(kind string, args ...string) {
	f.calls = append(f.calls, Call{Kind: kind, Args: args})
}

// persist writes the state back to disk. Callers hold f.mu.
func (f *FileShim) persist() error {
	if f.filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(f.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling organization: %w", err)
	}
	if err := os.WriteFile(f.filePath, data, 0644); err != nil {
		return fmt.Errorf("writing organization file: %w", err)
	}
	return nil
}

func (f *FileShim) nextID(prefix string) string {
	f.state.Seq++
	return fmt.Sprintf("%s%08d", prefix, f.state.Seq)
}

func apiError(code, format string, args ...any) error {
	return &smithy.GenericAPIError{Code: code, Message: fmt.Sprintf(format, args...), Fault: smithy.FaultClient}
}

func (f *FileShim) isParent(id string) bool {
	if id == f.state.RootID {
		return true
	}
	return f.ou(id) != nil
}

func (f *FileShim) ou(id string) *ShimOU {
	for _, ou := range f.state.OUs {
		if ou.ID == id {
			return ou
		}
	}
	return nil
}

func (f *FileShim) account(id string) *domain.Account {
	for _, a := range f.state.Accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (f *FileShim) policy(id string) *domain.Policy {
	for _, p := range f.state.Policies {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func copyAccount(a *domain.Account) *domain.Account {
	c := *a
	return &c
}

func copyPolicy(p *domain.Policy, withContent bool) *domain.Policy {
	c := *p
	c.Targets = nil
	if !withContent {
		c.Content = ""
	}
	return &c
}

// DescribeOrganization returns the organization identity.
func (f *FileShim) DescribeOrganization(ctx context.Context) (*domain.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &domain.Organization{ID: f.state.OrganizationID, MasterAccountID: f.state.MasterAccountID}, nil
}

// RootID returns the root id.
func (f *FileShim) RootID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.RootID, nil
}

// ListAccounts lists every account.
func (f *FileShim) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Account, 0, len(f.state.Accounts))
	for _, a := range f.state.Accounts {
		c := copyAccount(a)
		c.ParentID = ""
		out = append(out, c)
	}
	return out, nil
}

// ListOrganizationalUnits lists the child units of parentID.
func (f *FileShim) ListOrganizationalUnits(ctx context.Context, parentID string) ([]*domain.OrganizationalUnit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isParent(parentID) {
		return nil, apiError("ParentNotFoundException", "parent %s not found", parentID)
	}
	var out []*domain.OrganizationalUnit
	for _, ou := range f.state.OUs {
		if ou.ParentID == parentID {
			out = append(out, &domain.OrganizationalUnit{ID: ou.ID, Name: ou.Name, ParentID: ou.ParentID})
		}
	}
	return out, nil
}

// ListAccountsForParent lists the accounts directly under parentID.
func (f *FileShim) ListAccountsForParent(ctx context.Context, parentID string) ([]*domain.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isParent(parentID) {
		return nil, apiError("ParentNotFoundException", "parent %s not found", parentID)
	}
	var out []*domain.Account
	for _, a := range f.state.Accounts {
		if a.ParentID == parentID {
			out = append(out, copyAccount(a))
		}
	}
	return out, nil
}

// ParentOf returns the parent of an account or OU.
func (f *FileShim) ParentOf(ctx context.Context, childID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a := f.account(childID); a != nil {
		return a.ParentID, nil
	}
	if ou := f.ou(childID); ou != nil {
		return ou.ParentID, nil
	}
	return "", apiError("ChildNotFoundException", "child %s not found", childID)
}

// ListPolicies lists every policy without content.
func (f *FileShim) ListPolicies(ctx context.Context) ([]*domain.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Policy, 0, len(f.state.Policies))
	for _, p := range f.state.Policies {
		out = append(out, copyPolicy(p, false))
	}
	return out, nil
}

// DescribePolicy returns one policy with content.
func (f *FileShim) DescribePolicy(ctx context.Context, policyID string) (*domain.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy(policyID)
	if p == nil {
		return nil, apiError("PolicyNotFoundException", "policy %s not found", policyID)
	}
	return copyPolicy(p, true), nil
}

// ListPoliciesForTarget lists the policies attached to targetID.
func (f *FileShim) ListPoliciesForTarget(ctx context.Context, targetID string) ([]*domain.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Policy
	for _, p := range f.state.Policies {
		if slices.Contains(p.Targets, targetID) {
			out = append(out, copyPolicy(p, false))
		}
	}
	return out, nil
}

// ListTargetsForPolicy lists the targets of a policy.
func (f *FileShim) ListTargetsForPolicy(ctx context.Context, policyID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy(policyID)
	if p == nil {
		return nil, apiError("PolicyNotFoundException", "policy %s not found", policyID)
	}
	return slices.Clone(p.Targets), nil
}

// ListCreateAccountStatus lists create-account requests in the given states.
func (f *FileShim) ListCreateAccountStatus(ctx context.Context, states ...domain.CreateAccountState) ([]*domain.CreateAccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.CreateAccountStatus
	for _, r := range f.state.Requests {
		if len(states) == 0 || slices.Contains(states, r.Status.State) {
			s := r.Status
			out = append(out, &s)
		}
	}
	return out, nil
}

// DescribeCreateAccountStatus advances and returns one request.
func (f *FileShim) DescribeCreateAccountStatus(ctx context.Context, requestID string) (*domain.CreateAccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var req *ShimAccountRequest
	for _, r := range f.state.Requests {
		if r.Status.RequestID == requestID {
			req = r
		}
	}
	if req == nil {
		return nil, apiError("CreateAccountStatusNotFoundException", "request %s not found", requestID)
	}
	if req.Status.State == domain.CreateAccountInProgress {
		req.Polls++
		switch reason, failed := f.FailReasons[req.Status.AccountName]; {
		case failed:
			req.Status.State = domain.CreateAccountFailed
			req.Status.FailureReason = reason
		case req.Polls > f.CompleteAfterPolls:
			acct := &domain.Account{
				ID:       fmt.Sprintf("%012d", 100000000000+len(f.state.Accounts)+f.state.Seq),
				Name:     req.Status.AccountName,
				Email:    req.Email,
				Status:   domain.AccountStatusActive,
				ParentID: f.state.RootID,
			}
			f.state.Seq++
			f.state.Accounts = append(f.state.Accounts, acct)
			req.Status.State = domain.CreateAccountSucceeded
			req.Status.AccountID = acct.ID
		}
		if err := f.persist(); err != nil {
			return nil, err
		}
	}
	s := req.Status
	return &s, nil
}

// CreatePolicy creates a policy.
func (f *FileShim) CreatePolicy(ctx context.Context, name, description, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.state.Policies {
		if p.Name == name {
			return "", apiError("DuplicatePolicyException", "policy %s already exists", name)
		}
	}
	p := &domain.Policy{
		ID:          f.nextID("p-"),
		Name:        name,
		Description: description,
		Content:     content,
		Type:        domain.PolicyTypeServiceControl,
	}
	f.state.Policies = append(f.state.Policies, p)
	f.record(string(domain.OpCreatePolicy), name)
	return p.ID, f.persist()
}

// UpdatePolicy updates a policy.
func (f *FileShim) UpdatePolicy(ctx context.Context, policyID, description, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy(policyID)
	if p == nil {
		return apiError("PolicyNotFoundException", "policy %s not found", policyID)
	}
	p.Description = description
	p.Content = content
	f.record(string(domain.OpUpdatePolicy), p.Name)
	return f.persist()
}

// DeletePolicy deletes a detached policy.
func (f *FileShim) DeletePolicy(ctx context.Context, policyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy(policyID)
	if p == nil {
		return apiError("PolicyNotFoundException", "policy %s not found", policyID)
	}
	if len(p.Targets) > 0 {
		return apiError("PolicyInUseException", "policy %s is attached", p.Name)
	}
	f.state.Policies = slices.DeleteFunc(f.state.Policies, func(x *domain.Policy) bool { return x.ID == policyID })
	f.record(string(domain.OpDeletePolicy), p.Name)
	return f.persist()
}

// AttachPolicy attaches a policy to a target.
func (f *FileShim) AttachPolicy(ctx context.Context, policyID, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy(policyID)
	if p == nil {
		return apiError("PolicyNotFoundException", "policy %s not found", policyID)
	}
	if !f.isParent(targetID) && f.account(targetID) == nil {
		return apiError("TargetNotFoundException", "target %s not found", targetID)
	}
	if slices.Contains(p.Targets, targetID) {
		return apiError("DuplicatePolicyAttachmentException", "policy %s already attached to %s", p.Name, targetID)
	}
	p.Targets = append(p.Targets, targetID)
	f.record(string(domain.OpAttachPolicy), p.Name, targetID)
	return f.persist()
}

// DetachPolicy detaches a policy from a target.
func (f *FileShim) DetachPolicy(ctx context.Context, policyID, targetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.policy(policyID)
	if p == nil {
		return apiError("PolicyNotFoundException", "policy %s not found", policyID)
	}
	if !slices.Contains(p.Targets, targetID) {
		return apiError("PolicyNotAttachedException", "policy %s not attached to %s", p.Name, targetID)
	}
	p.Targets = slices.DeleteFunc(p.Targets, func(t string) bool { return t == targetID })
	f.record(string(domain.OpDetachPolicy), p.Name, targetID)
	return f.persist()
}

// CreateOrganizationalUnit creates a unit.
func (f *FileShim) CreateOrganizationalUnit(ctx context.Context, parentID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.isParent(parentID) {
		return "", apiError("ParentNotFoundException", "parent %s not found", parentID)
	}
	for _, ou := range f.state.OUs {
		if ou.ParentID == parentID && ou.Name == name {
			return "", apiError("DuplicateOrganizationalUnitException", "unit %s already exists", name)
		}
	}
	ou := &ShimOU{ID: f.nextID("ou-"), Name: name, ParentID: parentID}
	f.state.OUs = append(f.state.OUs, ou)
	if p := f.policy(f.state.AutoAttachPolicyID); p != nil {
		p.Targets = append(p.Targets, ou.ID)
	}
	f.record(string(domain.OpCreateOU), name, parentID)
	return ou.ID, f.persist()
}

// DeleteOrganizationalUnit deletes an empty unit.
func (f *FileShim) DeleteOrganizationalUnit(ctx context.Context, ouID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ou := f.ou(ouID)
	if ou == nil {
		return apiError("OrganizationalUnitNotFoundException", "unit %s not found", ouID)
	}
	for _, a := range f.state.Accounts {
		if a.ParentID == ouID {
			return apiError("OrganizationalUnitNotEmptyException", "unit %s has accounts", ou.Name)
		}
	}
	for _, child := range f.state.OUs {
		if child.ParentID == ouID {
			return apiError("OrganizationalUnitNotEmptyException", "unit %s has child units", ou.Name)
		}
	}
	for _, p := range f.state.Policies {
		p.Targets = slices.DeleteFunc(p.Targets, func(t string) bool { return t == ouID })
	}
	f.state.OUs = slices.DeleteFunc(f.state.OUs, func(x *ShimOU) bool { return x.ID == ouID })
	f.record(string(domain.OpDeleteOU), ou.Name)
	return f.persist()
}

// MoveAccount moves an account.
func (f *FileShim) MoveAccount(ctx context.Context, accountID, sourceParentID, destinationParentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a := f.account(accountID)
	if a == nil {
		return apiError("AccountNotFoundException", "account %s not found", accountID)
	}
	if a.ParentID != sourceParentID {
		return apiError("SourceParentNotFoundException", "account %s is not under %s", a.Name, sourceParentID)
	}
	if !f.isParent(destinationParentID) {
		return apiError("DestinationParentNotFoundException", "parent %s not found", destinationParentID)
	}
	a.ParentID = destinationParentID
	f.record(string(domain.OpMoveAccount), a.Name, destinationParentID)
	return f.persist()
}

// CreateAccount submits a create-account request.
func (f *FileShim) CreateAccount(ctx context.Context, name, email string) (*domain.CreateAccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ThrottleCreateAccount > 0 {
		f.ThrottleCreateAccount--
		return nil, apiError("TooManyRequestsException", "rate exceeded")
	}
	req := &ShimAccountRequest{
		Status: domain.CreateAccountStatus{
			RequestID:   f.nextID("car-"),
			AccountName: name,
			State:       domain.CreateAccountInProgress,
		},
		Email: email,
	}
	f.state.Requests = append(f.state.Requests, req)
	f.record("create_account", name, email)
	s := req.Status
	return &s, f.persist()
}

// EnableServiceControlPolicies is a no-op; the shim always allows SCPs.
func (f *FileShim) EnableServiceControlPolicies(ctx context.Context, rootID string) error {
	return nil
}
