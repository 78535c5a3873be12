package domain

import (
	"fmt"
	"strings"
)

// OperationKind names a mutating call against the organization.
type OperationKind string

const (
	OpCreatePolicy OperationKind = "create_policy"
	OpUpdatePolicy OperationKind = "update_policy"
	OpDeletePolicy OperationKind = "delete_policy"
	OpCreateOU     OperationKind = "create_ou"
	OpDeleteOU     OperationKind = "delete_ou"
	OpAttachPolicy OperationKind = "attach_policy"
	OpDetachPolicy OperationKind = "detach_policy"
	OpMoveAccount  OperationKind = "move_account"
)

// PendingPrefix marks an id that refers to a resource created earlier in the
// same plan. The applier substitutes the real id once the create succeeds.
const PendingPrefix = "pending:"

// PendingOURef returns the placeholder id of an OU created by a plan.
func PendingOURef(parentID, name string) string {
	return PendingPrefix + "ou:" + parentID + "/" + name
}

// PendingPolicyRef returns the placeholder id of a policy created by a plan.
func PendingPolicyRef(name string) string {
	return PendingPrefix + "policy:" + name
}

// IsPending reports whether id is a placeholder.
func IsPending(id string) bool {
	return strings.HasPrefix(id, PendingPrefix)
}

// Operation is one intended mutation. Only the fields relevant to Kind are set.
type Operation struct {
	Kind OperationKind `json:"kind"`
	// Name is the policy, OU or account name the operation is about.
	Name string `json:"name"`
	// OU is the name of the OU the operation happens in, for reporting.
	OU string `json:"ou,omitempty"`

	PolicyID            string `json:"policy_id,omitempty"`
	TargetID            string `json:"target_id,omitempty"`
	AccountID           string `json:"account_id,omitempty"`
	SourceParentID      string `json:"source_parent_id,omitempty"`
	DestinationParentID string `json:"destination_parent_id,omitempty"`
	ParentID            string `json:"parent_id,omitempty"`
	OUID                string `json:"ou_id,omitempty"`
	Description         string `json:"description,omitempty"`
	Content             string `json:"content,omitempty"`

	// Ref is the placeholder id assigned to the resource this operation creates.
	Ref string `json:"ref,omitempty"`
}

// String renders the operation the way it is logged and reported.
func (op Operation) String() string {
	switch op.Kind {
	case OpCreatePolicy:
		return fmt.Sprintf("create policy %q", op.Name)
	case OpUpdatePolicy:
		return fmt.Sprintf("update policy %q", op.Name)
	case OpDeletePolicy:
		return fmt.Sprintf("delete policy %q", op.Name)
	case OpCreateOU:
		return fmt.Sprintf("create OU %q under %q", op.Name, op.OU)
	case OpDeleteOU:
		return fmt.Sprintf("delete OU %q", op.Name)
	case OpAttachPolicy:
		return fmt.Sprintf("attach policy %q to OU %q", op.Name, op.OU)
	case OpDetachPolicy:
		return fmt.Sprintf("detach policy %q from OU %q", op.Name, op.OU)
	case OpMoveAccount:
		return fmt.Sprintf("move account %q to OU %q", op.Name, op.OU)
	default:
		return string(op.Kind) + " " + op.Name
	}
}

// Severity grades a Problem.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Problem is an operation the planner refused to emit, with the reason.
type Problem struct {
	Severity Severity `json:"severity"`
	Resource string   `json:"resource"`
	OU       string   `json:"ou,omitempty"`
	Err      error    `json:"-"`
	Message  string   `json:"message"`
}

// NewProblem builds a Problem whose Message mirrors err.
func NewProblem(sev Severity, resource, ou string, err error) Problem {
	return Problem{Severity: sev, Resource: resource, OU: ou, Err: err, Message: err.Error()}
}

// Plan is the ordered list of intended mutations plus everything that was skipped.
type Plan struct {
	Operations []Operation `json:"operations"`
	Problems   []Problem   `json:"problems,omitempty"`
}

// Add appends an operation.
func (p *Plan) Add(op Operation) {
	p.Operations = append(p.Operations, op)
}

// Report appends a problem.
func (p *Plan) Report(prob Problem) {
	p.Problems = append(p.Problems, prob)
}

// Merge appends another plan's operations and problems.
func (p *Plan) Merge(other *Plan) {
	if other == nil {
		return
	}
	p.Operations = append(p.Operations, other.Operations...)
	p.Problems = append(p.Problems, other.Problems...)
}

// Empty reports whether the plan issues no mutation.
func (p *Plan) Empty() bool {
	return len(p.Operations) == 0
}
