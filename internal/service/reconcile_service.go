package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/inventory"
	"github.com/bcnelson/aws-org-manager/internal/metrics"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
	"github.com/bcnelson/aws-org-manager/internal/provisioning"
	"github.com/bcnelson/aws-org-manager/internal/reconciler"
	"github.com/bcnelson/aws-org-manager/internal/spec"
	"github.com/bcnelson/aws-org-manager/internal/storage"
	"github.com/bcnelson/aws-org-manager/internal/validation"
)

// Config holds the service settings.
type Config struct {
	// SpecFile is loaded by LoadSpec and by debounced reconciliations.
	SpecFile      string
	AutoReconcile bool
	Debounce      time.Duration
	Provisioning  provisioning.Config
}

// ReconcileService runs reconciliations against one organization, one at a
// time, and records every run.
type ReconcileService struct {
	store       storage.Storage
	reader      *inventory.Reader
	reconciler  *reconciler.Reconciler
	provisioner *provisioning.Provisioner
	metrics     *metrics.Metrics
	log         logrus.FieldLogger
	cfg         Config

	// running is held for the whole of a reconciliation or provisioning run.
	running sync.Mutex

	mu             sync.Mutex
	reconcileTimer *time.Timer
}

// NewReconcileService creates a new ReconcileService.
func NewReconcileService(store storage.Storage, client organizations.Client, m *metrics.Metrics, log logrus.FieldLogger, cfg Config) *ReconcileService {
	return &ReconcileService{
		store:       store,
		reader:      inventory.New(client, log),
		reconciler:  reconciler.New(client, log, m),
		provisioner: provisioning.New(client, cfg.Provisioning, log),
		metrics:     m,
		log:         log,
		cfg:         cfg,
	}
}

// LoadSpec loads the configured spec file.
func (s *ReconcileService) LoadSpec() (*domain.Spec, error) {
	if s.cfg.SpecFile == "" {
		return nil, fmt.Errorf("%w: no spec file configured", domain.ErrPreconditionFailed)
	}
	return spec.LoadFile(s.cfg.SpecFile)
}

// Report reads the live organization including policy documents.
func (s *ReconcileService) Report(ctx context.Context) (*domain.Inventory, error) {
	return s.reader.Read(ctx, true)
}

// TriggerReconcile triggers a debounced execute-mode reconciliation of the
// spec file. Multiple triggers within the debounce period result in a single run.
func (s *ReconcileService) TriggerReconcile() {
	if !s.cfg.AutoReconcile {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reconcileTimer != nil {
		s.reconcileTimer.Stop()
	}

	s.reconcileTimer = time.AfterFunc(s.cfg.Debounce, func() {
		ctx := context.Background()
		desired, err := s.LoadSpec()
		if err != nil {
			s.log.WithError(err).Error("Auto-reconcile could not load spec")
			return
		}
		if _, err := s.Reconcile(ctx, desired, domain.ModeExecute); err != nil {
			s.log.WithError(err).Error("Auto-reconcile failed")
		}
	})
}

// Stop cancels a pending debounced reconciliation.
func (s *ReconcileService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconcileTimer != nil {
		s.reconcileTimer.Stop()
	}
}

// Reconcile converges the organization to desired and records the run.
//
// The returned run is nil only when another run is in progress or the run
// record could not be created. A fatal configuration error marks the run
// aborted and is returned; per-operation failures are returned combined but
// the run still completes.
func (s *ReconcileService) Reconcile(ctx context.Context, desired *domain.Spec, mode domain.Mode) (*domain.Run, error) {
	if !s.running.TryLock() {
		return nil, domain.ErrRunInProgress
	}
	defer s.running.Unlock()

	run := &domain.Run{
		ID:              uuid.New().String(),
		Mode:            mode,
		Status:          domain.RunStatusRunning,
		MasterAccountID: desired.MasterAccountID,
		StartedAt:       time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("recording run: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"run_id": run.ID, "mode": mode})
	log.Info("Reconciliation started")

	out, err := s.reconciler.Reconcile(ctx, desired, mode)
	s.finish(ctx, run, out, err)

	entry := log.WithField("status", run.Status)
	if out != nil {
		entry = entry.WithFields(logrus.Fields{
			"applied":  out.Count(domain.OpStatusApplied),
			"planned":  out.Count(domain.OpStatusPlanned),
			"failed":   out.Count(domain.OpStatusFailed),
			"skipped":  out.Count(domain.OpStatusSkipped),
			"problems": len(out.Problems),
		})
	}
	if err != nil {
		entry.WithError(err).Error("Reconciliation finished with errors")
	} else {
		entry.Info("Reconciliation finished")
	}
	return run, err
}

// finish fills in the run from the outcome, stores it and updates metrics.
// Storage errors are logged only; the run already happened.
func (s *ReconcileService) finish(ctx context.Context, run *domain.Run, out *reconciler.Outcome, err error) {
	fillRun(run, out, err)
	now := *run.FinishedAt

	// An interrupted run is still recorded.
	ctx = context.WithoutCancel(ctx)
	log := s.log.WithField("run_id", run.ID)
	if len(run.Operations) > 0 {
		if err := s.store.AddRunOperations(ctx, run.ID, run.Operations); err != nil {
			log.WithError(err).Warn("Failed to record run operations")
		}
	}
	if err := s.store.UpdateRun(ctx, run); err != nil {
		log.WithError(err).Warn("Failed to update run record")
	}

	s.metrics.RecordRun(string(run.Mode), run.Status, now.Sub(run.StartedAt))
	for _, p := range run.Problems {
		s.metrics.RecordProblem(string(p.Severity))
	}
	if run.Orphans != nil {
		s.metrics.SetOrphans(len(run.Orphans.Accounts), len(run.Orphans.OUs), len(run.Orphans.Policies))
	}
}

// fillRun copies the outcome of a reconciliation into run.
func fillRun(run *domain.Run, out *reconciler.Outcome, err error) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = runStatus(out, err)
	if err != nil {
		run.Error = err.Error()
	}
	if out == nil {
		return
	}
	for i, op := range out.Operations {
		run.Operations = append(run.Operations, &domain.RunOperation{
			RunID:  run.ID,
			Seq:    i,
			Kind:   op.Kind,
			Name:   op.Name,
			OU:     op.OU,
			Status: op.Status,
			Error:  op.Error,
		})
	}
	run.Problems = out.Problems
	run.Orphans = out.Orphans
}

// Plan computes a dry-run of desired without recording it. It issues no
// mutating call and does not take the run lock.
func (s *ReconcileService) Plan(ctx context.Context, desired *domain.Spec) (*domain.Run, error) {
	run := &domain.Run{
		Mode:            domain.ModeDryRun,
		MasterAccountID: desired.MasterAccountID,
		StartedAt:       time.Now().UTC(),
	}
	out, err := s.reconciler.Reconcile(ctx, desired, domain.ModeDryRun)
	if domain.IsFatal(err) {
		return nil, err
	}
	fillRun(run, out, err)
	if out == nil {
		return nil, err
	}
	return run, nil
}

func runStatus(out *reconciler.Outcome, err error) string {
	switch {
	case domain.IsFatal(err):
		return domain.RunStatusAborted
	case out == nil, out.IntegrityFailure():
		return domain.RunStatusFailed
	case err != nil && out.Count(domain.OpStatusFailed) == 0:
		// the run stopped for a reason other than a failed operation
		return domain.RunStatusFailed
	case out.Count(domain.OpStatusFailed) > 0, out.Count(domain.OpStatusSkipped) > 0, len(out.Problems) > 0:
		return domain.RunStatusPartial
	default:
		return domain.RunStatusSucceeded
	}
}

// Provision creates every account named in desired that does not exist yet.
// It shares the run lock with Reconcile.
func (s *ReconcileService) Provision(ctx context.Context, desired *domain.Spec, mode domain.Mode) ([]*provisioning.Outcome, []domain.Problem, error) {
	if !s.running.TryLock() {
		return nil, nil, domain.ErrRunInProgress
	}
	defer s.running.Unlock()

	inv, err := s.reader.Read(ctx, false)
	if err != nil {
		return nil, nil, fmt.Errorf("reading organization: %w", err)
	}
	if err := validation.Validate(desired, &inv.Organization); err != nil {
		return nil, nil, err
	}

	outcomes, problems, err := s.provisioner.ProvisionMissing(ctx, desired, inv, mode)
	for _, out := range outcomes {
		s.metrics.RecordAccountRequest(string(out.State))
	}
	for _, p := range problems {
		s.metrics.RecordProblem(string(p.Severity))
		entry := s.log.WithField("account", p.Resource)
		if p.Severity == domain.SeverityError {
			entry.Error(p.Message)
		} else {
			entry.Warn(p.Message)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return outcomes, problems, fmt.Errorf("provisioning accounts: %w", err)
	}
	return outcomes, problems, err
}
