package reconciler

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
)

// Recorder counts operation outcomes.
type Recorder interface {
	RecordOperation(kind, status string)
}

// OperationResult is one operation and what happened to it.
type OperationResult struct {
	domain.Operation
	Status string `json:"status"`
	Err    error  `json:"-"`
	// Error mirrors Err for JSON output.
	Error string `json:"error,omitempty"`
	// ID is the real id of a resource created by the operation.
	ID string `json:"id,omitempty"`
}

// Result is the outcome of applying one plan.
type Result struct {
	Mode       domain.Mode       `json:"mode"`
	Operations []OperationResult `json:"operations"`
	Problems   []domain.Problem  `json:"problems,omitempty"`
}

// Count returns the number of operations with the given status.
func (r *Result) Count(status string) int {
	n := 0
	for _, op := range r.Operations {
		if op.Status == status {
			n++
		}
	}
	return n
}

// Merge appends another result's operations and problems.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Operations = append(r.Operations, other.Operations...)
	r.Problems = append(r.Problems, other.Problems...)
}

// Applier issues the operations of a plan in order.
type Applier struct {
	client        organizations.Client
	defaultPolicy string
	log           logrus.FieldLogger
	recorder      Recorder
}

// NewApplier creates an Applier. Detach and delete operations naming
// defaultPolicy are always refused. recorder may be nil.
func NewApplier(client organizations.Client, defaultPolicy string, log logrus.FieldLogger, recorder Recorder) *Applier {
	return &Applier{client: client, defaultPolicy: defaultPolicy, log: log, recorder: recorder}
}

// Apply runs plan in the given mode. In dry-run every operation is marked
// planned and nothing is called. In execute mode every operation is issued
// and awaited before the next one; a failure does not stop the rest of the
// plan, and operations that depend on a create that did not happen are
// skipped. The returned error combines every failure.
func (a *Applier) Apply(ctx context.Context, plan *domain.Plan, mode domain.Mode) (*Result, error) {
	res := &Result{Mode: mode, Problems: plan.Problems}
	refs := make(map[string]string)
	var errs error

	for _, op := range plan.Operations {
		out := OperationResult{Operation: op}
		log := a.log.WithFields(logrus.Fields{"op": op.Kind, "name": op.Name})
		if op.OU != "" {
			log = log.WithField("ou", op.OU)
		}

		switch {
		case a.protected(op):
			out.Status = domain.OpStatusFailed
			out.Err = fmt.Errorf("%s: default policy %q is protected: %w", op, a.defaultPolicy, domain.ErrPreconditionFailed)
		case mode != domain.ModeExecute:
			out.Status = domain.OpStatusPlanned
		case ctx.Err() != nil:
			out.Status = domain.OpStatusSkipped
			out.Err = fmt.Errorf("%s: %w", op, ctx.Err())
		default:
			resolved, err := resolve(op, refs)
			if err != nil {
				out.Status = domain.OpStatusSkipped
				out.Err = fmt.Errorf("%s: %w", op, err)
				break
			}
			id, err := a.issue(ctx, resolved)
			if err != nil {
				out.Status = domain.OpStatusFailed
				out.Err = fmt.Errorf("%s: %w", op, err)
				break
			}
			out.Status = domain.OpStatusApplied
			if op.Ref != "" {
				refs[op.Ref] = id
				out.ID = id
			}
		}

		switch out.Status {
		case domain.OpStatusPlanned:
			log.Info("Planned")
		case domain.OpStatusApplied:
			log.Info("Applied")
		case domain.OpStatusSkipped:
			log.WithError(out.Err).Warn("Skipped")
		case domain.OpStatusFailed:
			log.WithError(out.Err).Error("Failed")
			errs = multierr.Append(errs, out.Err)
		}
		if out.Err != nil {
			out.Error = out.Err.Error()
		}
		if a.recorder != nil {
			a.recorder.RecordOperation(string(op.Kind), out.Status)
		}
		res.Operations = append(res.Operations, out)
	}

	return res, errs
}

func (a *Applier) protected(op domain.Operation) bool {
	switch op.Kind {
	case domain.OpDetachPolicy, domain.OpDeletePolicy:
		return op.Name == a.defaultPolicy
	}
	return false
}

// resolve replaces placeholder ids with the ids of resources created earlier.
func resolve(op domain.Operation, refs map[string]string) (domain.Operation, error) {
	for _, field := range []*string{&op.PolicyID, &op.TargetID, &op.ParentID, &op.OUID, &op.SourceParentID, &op.DestinationParentID} {
		if !domain.IsPending(*field) {
			continue
		}
		id, ok := refs[*field]
		if !ok {
			return op, fmt.Errorf("depends on %s, which was not created: %w", *field, domain.ErrPreconditionFailed)
		}
		*field = id
	}
	return op, nil
}

// issue makes the API call for one resolved operation and returns the id of
// the created resource, if any.
func (a *Applier) issue(ctx context.Context, op domain.Operation) (string, error) {
	switch op.Kind {
	case domain.OpCreatePolicy:
		return a.client.CreatePolicy(ctx, op.Name, op.Description, op.Content)
	case domain.OpUpdatePolicy:
		return "", a.client.UpdatePolicy(ctx, op.PolicyID, op.Description, op.Content)
	case domain.OpDeletePolicy:
		return "", a.client.DeletePolicy(ctx, op.PolicyID)
	case domain.OpCreateOU:
		return a.client.CreateOrganizationalUnit(ctx, op.ParentID, op.Name)
	case domain.OpDeleteOU:
		return "", a.client.DeleteOrganizationalUnit(ctx, op.OUID)
	case domain.OpAttachPolicy:
		return "", a.client.AttachPolicy(ctx, op.PolicyID, op.TargetID)
	case domain.OpDetachPolicy:
		return "", a.client.DetachPolicy(ctx, op.PolicyID, op.TargetID)
	case domain.OpMoveAccount:
		return "", a.client.MoveAccount(ctx, op.AccountID, op.SourceParentID, op.DestinationParentID)
	default:
		return "", fmt.Errorf("unknown operation kind %q: %w", op.Kind, domain.ErrInvalidInput)
	}
}
