package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/inventory"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
	"github.com/bcnelson/aws-org-manager/internal/validation"
)

// Outcome is the result of one full reconciliation pass.
type Outcome struct {
	*Result
	Orphans *domain.OrphanReport `json:"orphans"`
	// Inventory is the state the orphan pass was planned against.
	Inventory *domain.Inventory `json:"-"`
}

// IntegrityFailure reports whether any branch was skipped because a live
// name matched more than one record.
func (o *Outcome) IntegrityFailure() bool {
	for _, p := range o.Problems {
		if errors.Is(p.Err, domain.ErrDataIntegrity) {
			return true
		}
	}
	return false
}

// Reconciler runs the policy, OU and orphan passes against one organization.
type Reconciler struct {
	client   organizations.Client
	reader   *inventory.Reader
	log      logrus.FieldLogger
	recorder Recorder
}

// New creates a Reconciler. recorder may be nil.
func New(client organizations.Client, log logrus.FieldLogger, recorder Recorder) *Reconciler {
	return &Reconciler{
		client:   client,
		reader:   inventory.New(client, log),
		log:      log,
		recorder: recorder,
	}
}

// Reconcile validates spec against the live organization and converges it.
//
// Validation failures are returned before any call is made. In execute mode
// the inventory is read again after the policy pass and after the OU pass, so
// each pass plans against what the previous one actually did. In dry-run the
// three passes are planned against the same initial read and orphans are
// reported against the pre-reconciliation state.
func (r *Reconciler) Reconcile(ctx context.Context, spec *domain.Spec, mode domain.Mode) (*Outcome, error) {
	inv, err := r.reader.Read(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("reading organization: %w", err)
	}
	if err := validation.Validate(spec, &inv.Organization); err != nil {
		return nil, err
	}

	applier := NewApplier(r.client, spec.DefaultPolicy, r.log, r.recorder)
	out := &Outcome{Result: &Result{Mode: mode}}
	var errs error

	if mode == domain.ModeExecute {
		if err := r.client.EnableServiceControlPolicies(ctx, inv.RootID); err != nil {
			return nil, fmt.Errorf("enabling service control policies: %w", err)
		}
	}

	passes := []struct {
		name string
		plan func(*domain.Inventory) *domain.Plan
	}{
		{"policies", func(inv *domain.Inventory) *domain.Plan { return PlanPolicies(spec, inv) }},
		{"organizational units", func(inv *domain.Inventory) *domain.Plan { return PlanOUs(spec, inv) }},
		{"unmanaged accounts", func(inv *domain.Inventory) *domain.Plan {
			plan, report := PlanOrphans(spec, inv)
			out.Orphans = report
			return plan
		}},
	}

	for i, pass := range passes {
		if i > 0 && mode == domain.ModeExecute {
			if inv, err = r.reader.Read(ctx, true); err != nil {
				return out, multierr.Append(errs, fmt.Errorf("re-reading organization: %w", err))
			}
		}

		plan := pass.plan(inv)
		r.logProblems(pass.name, plan.Problems)
		res, err := applier.Apply(ctx, plan, mode)
		out.Merge(res)
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			return out, multierr.Append(errs, ctx.Err())
		}
	}

	out.Inventory = inv
	r.logOrphans(out.Orphans)
	return out, errs
}

func (r *Reconciler) logProblems(pass string, problems []domain.Problem) {
	for _, p := range problems {
		entry := r.log.WithFields(logrus.Fields{"pass": pass, "resource": p.Resource})
		if p.OU != "" {
			entry = entry.WithField("ou", p.OU)
		}
		if p.Severity == domain.SeverityWarning {
			entry.Warn(p.Message)
		} else {
			entry.Error(p.Message)
		}
	}
}

func (r *Reconciler) logOrphans(report *domain.OrphanReport) {
	if report == nil || report.Empty() {
		return
	}
	for _, name := range report.Accounts {
		r.log.WithField("account", name).Warn("Unmanaged account")
	}
	for _, name := range report.OUs {
		r.log.WithField("ou", name).Warn("Unmanaged organizational unit")
	}
	for _, name := range report.Policies {
		r.log.WithField("policy", name).Warn("Unmanaged policy")
	}
}
