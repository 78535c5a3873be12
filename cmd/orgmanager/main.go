package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bcnelson/aws-org-manager/internal/api"
	"github.com/bcnelson/aws-org-manager/internal/config"
	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/logging"
	"github.com/bcnelson/aws-org-manager/internal/metrics"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
	"github.com/bcnelson/aws-org-manager/internal/report"
	"github.com/bcnelson/aws-org-manager/internal/service"
	"github.com/bcnelson/aws-org-manager/internal/storage"
	"github.com/bcnelson/aws-org-manager/internal/storage/memory"
	"github.com/bcnelson/aws-org-manager/internal/storage/sql"
	"github.com/bcnelson/aws-org-manager/internal/validation"
)

// errRunFailed makes the process exit non-zero after the run was reported.
var errRunFailed = errors.New("run failed")

type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	specFile string
	execute  bool
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:           "orgmanager",
		Short:         "Reconcile an AWS Organization against a declarative spec",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.specFile, "spec-file", "", "path to the organization spec (overrides SPEC_FILE)")

	root.AddCommand(a.reportCmd(), a.reconcileCmd(), a.provisionCmd(), a.serveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		var verrs validation.ValidationErrors
		switch {
		case errors.Is(err, errRunFailed):
		case errors.As(err, &verrs):
			fmt.Fprintln(os.Stderr, "Error: invalid organization spec:")
			for _, e := range verrs {
				fmt.Fprintln(os.Stderr, "  -", e)
			}
		default:
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if a.specFile != "" {
		cfg.Reconcile.SpecFile = a.specFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

func (a *app) client(ctx context.Context) (organizations.Client, error) {
	if a.cfg.UseFileShim() {
		a.log.WithField("file", a.cfg.AWS.FileShim).Info("Using file shim for the AWS Organizations API")
		return organizations.NewFileShim(a.cfg.AWS.FileShim)
	}
	return organizations.New(ctx, a.cfg.AWS.Region, a.cfg.AWS.Profile, a.cfg.AWS.Rate, a.cfg.AWS.Burst)
}

func (a *app) store() (storage.Storage, error) {
	if a.cfg.Database.Driver == "memory" {
		return memory.New(), nil
	}
	if a.cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(a.cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}
	return sql.New(a.cfg.Database.Driver, a.cfg.Database.DSN)
}

func (a *app) service(ctx context.Context) (*service.ReconcileService, storage.Storage, *metrics.Metrics, error) {
	client, err := a.client(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing organizations client: %w", err)
	}
	store, err := a.store()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initializing storage: %w", err)
	}
	m := metrics.New()
	svc := service.NewReconcileService(store, client, m, a.log, service.Config{
		SpecFile:      a.cfg.Reconcile.SpecFile,
		AutoReconcile: a.cfg.Reconcile.AutoReconcile,
		Debounce:      a.cfg.Reconcile.Debounce,
		Provisioning:  a.cfg.ProvisionerConfig(),
	})
	return svc, store, m, nil
}

func (a *app) mode() domain.Mode {
	if a.execute {
		return domain.ModeExecute
	}
	return domain.ModeDryRun
}

func (a *app) reportCmd() *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the live organization: OU tree, accounts and policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, _, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			inv, err := svc.Report(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			writers := map[string]func() error{
				"ou":       func() error { return report.WriteOrganization(out, inv) },
				"accounts": func() error { return report.WriteAccounts(out, inv) },
				"policies": func() error { return report.WritePolicies(out, inv) },
			}
			order := []string{"ou", "accounts", "policies"}
			if section != "" {
				if _, ok := writers[section]; !ok {
					return fmt.Errorf("unknown section %q: want ou, accounts or policies", section)
				}
				order = []string{section}
			}
			for _, name := range order {
				if err := writers[name](); err != nil {
					return err
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "print only ou, accounts or policies")
	return cmd
}

func (a *app) reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Converge the organization to the spec (dry-run unless --exec)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, _, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			desired, err := svc.LoadSpec()
			if err != nil {
				return err
			}

			run, err := svc.Reconcile(cmd.Context(), desired, a.mode())
			if run == nil {
				return err
			}
			if werr := report.WriteRun(cmd.OutOrStdout(), run); werr != nil {
				return werr
			}
			if domain.IsFatal(err) {
				return err
			}
			if run.Status == domain.RunStatusFailed || run.Status == domain.RunStatusAborted {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.execute, "exec", false, "issue the mutating calls instead of only planning them")
	return cmd
}

func (a *app) provisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create the accounts named in the spec that do not exist yet (dry-run unless --exec)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, store, _, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			desired, err := svc.LoadSpec()
			if err != nil {
				return err
			}

			outcomes, problems, err := svc.Provision(cmd.Context(), desired, a.mode())
			if werr := report.WriteProvisioning(cmd.OutOrStdout(), outcomes); werr != nil {
				return werr
			}
			if err != nil {
				return err
			}
			for _, p := range problems {
				if p.Severity == domain.SeverityError {
					return errRunFailed
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&a.execute, "exec", false, "submit create-account requests instead of only listing them")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc, store, m, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			defer svc.Stop()

			server := &http.Server{
				Addr:         a.cfg.Server.Addr(),
				Handler:      api.NewRouter(store, svc, m, a.cfg.Server.APIKey, a.log),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 10 * time.Minute, // reconcile requests run synchronously
				IdleTimeout:  120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.WithField("addr", server.Addr).Info("Starting AWS Organization manager")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			// Converge once at startup when auto-reconcile is on.
			svc.TriggerReconcile()

			select {
			case err := <-errCh:
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			a.log.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			a.log.Info("Server stopped")
			return nil
		},
	}
}
