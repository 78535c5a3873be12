// Package provisioning creates member accounts and follows each request until
// the provider reports a terminal state.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
	"github.com/bcnelson/aws-org-manager/internal/retry"
)

var errStillInProgress = errors.New("create-account request still in progress")

// Config bounds submission retries and status polling.
type Config struct {
	SubmitAttempts int
	SubmitDelay    time.Duration
	PollInterval   time.Duration
	MaxPolls       int
}

// DefaultConfig matches the provider's usual account creation time.
func DefaultConfig() Config {
	return Config{
		SubmitAttempts: 5,
		SubmitDelay:    5 * time.Second,
		PollInterval:   10 * time.Second,
		MaxPolls:       30,
	}
}

// Outcome is where one account ended up in the provisioning state machine.
// State is REQUESTED when nothing was submitted (dry-run), IN_PROGRESS when
// the request is still pending at the provider.
type Outcome struct {
	Name      string                    `json:"name"`
	Email     string                    `json:"email,omitempty"`
	RequestID string                    `json:"request_id,omitempty"`
	State     domain.CreateAccountState `json:"state"`
	AccountID string                    `json:"account_id,omitempty"`
	Reason    string                    `json:"reason,omitempty"`
}

// Provisioner drives create-account requests.
type Provisioner struct {
	client organizations.Client
	cfg    Config
	log    logrus.FieldLogger
}

// New creates a Provisioner.
func New(client organizations.Client, cfg Config, log logrus.FieldLogger) *Provisioner {
	return &Provisioner{client: client, cfg: cfg, log: log}
}

// Provision creates one account. A request already IN_PROGRESS for the same
// name is not submitted again. A request that is still pending after MaxPolls
// returns an IN_PROGRESS outcome; the next run picks it up.
func (p *Provisioner) Provision(ctx context.Context, name, email string) (*Outcome, error) {
	log := p.log.WithField("account", name)

	pending, err := p.pendingRequest(ctx, name)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		log.WithField("request_id", pending.RequestID).Warn("Create-account request already in progress, not submitting again")
		return &Outcome{
			Name:      name,
			Email:     email,
			RequestID: pending.RequestID,
			State:     domain.CreateAccountInProgress,
			Reason:    "request already in progress",
		}, nil
	}

	submit := retry.Do(ctx, retry.Policy{MaxAttempts: p.cfg.SubmitAttempts, Delay: p.cfg.SubmitDelay},
		func(ctx context.Context) (*domain.CreateAccountStatus, error) {
			status, err := p.client.CreateAccount(ctx, name, email)
			if err != nil && organizations.IsTransient(err) {
				log.WithError(err).Debug("Create-account request rejected, retrying")
				return nil, retry.Retryable(err)
			}
			return status, err
		})
	switch submit.Outcome {
	case retry.Exhausted:
		return nil, fmt.Errorf("submitting account %q: gave up after %d attempts: %w", name, submit.Attempts, submit.Err)
	case retry.Failed:
		return nil, fmt.Errorf("submitting account %q: %w", name, submit.Err)
	}

	status := submit.Value
	log.WithField("request_id", status.RequestID).Info("Submitted create-account request")
	if status.State == domain.CreateAccountInProgress {
		status, err = p.poll(ctx, status.RequestID)
		if err != nil {
			return nil, err
		}
	}

	out := &Outcome{
		Name:      name,
		Email:     email,
		RequestID: status.RequestID,
		State:     status.State,
		AccountID: status.AccountID,
		Reason:    status.FailureReason,
	}
	switch out.State {
	case domain.CreateAccountSucceeded:
		log.WithField("account_id", out.AccountID).Info("Account created")
	case domain.CreateAccountFailed:
		log.WithField("reason", out.Reason).Error("Account creation failed")
	default:
		out.Reason = fmt.Sprintf("still in progress after %d polls", p.cfg.MaxPolls)
		log.WithField("request_id", out.RequestID).Warn("Account creation did not finish in time, will check again on the next run")
	}
	return out, nil
}

// poll waits for a request to leave IN_PROGRESS. Running out of polls is not
// an error: the last status is returned.
func (p *Provisioner) poll(ctx context.Context, requestID string) (*domain.CreateAccountStatus, error) {
	var last *domain.CreateAccountStatus
	res := retry.Do(ctx, retry.Policy{MaxAttempts: p.cfg.MaxPolls, Delay: p.cfg.PollInterval},
		func(ctx context.Context) (*domain.CreateAccountStatus, error) {
			status, err := p.client.DescribeCreateAccountStatus(ctx, requestID)
			if err != nil {
				if organizations.IsTransient(err) {
					return nil, retry.Retryable(err)
				}
				return nil, err
			}
			last = status
			if status.State == domain.CreateAccountInProgress {
				return nil, retry.Retryable(errStillInProgress)
			}
			return status, nil
		})

	switch res.Outcome {
	case retry.Succeeded:
		return res.Value, nil
	case retry.Exhausted:
		if last != nil {
			return last, nil
		}
		return &domain.CreateAccountStatus{RequestID: requestID, State: domain.CreateAccountInProgress}, nil
	default:
		return nil, fmt.Errorf("polling create-account request %s: %w", requestID, res.Err)
	}
}

func (p *Provisioner) pendingRequest(ctx context.Context, name string) (*domain.CreateAccountStatus, error) {
	requests, err := p.client.ListCreateAccountStatus(ctx, domain.CreateAccountInProgress)
	if err != nil {
		return nil, fmt.Errorf("listing create-account requests: %w", err)
	}
	for _, r := range requests {
		if r.AccountName == name {
			return r, nil
		}
	}
	return nil, nil
}

// ProvisionMissing creates every account named in the spec tree that does not
// exist yet. Pending and failed accounts are reported as problems and the
// remaining accounts are still processed. In dry-run nothing is submitted.
func (p *Provisioner) ProvisionMissing(ctx context.Context, spec *domain.Spec, inv *domain.Inventory, mode domain.Mode) ([]*Outcome, []domain.Problem, error) {
	var outcomes []*Outcome
	var problems []domain.Problem

	for _, name := range missingAccounts(spec, inv) {
		if err := ctx.Err(); err != nil {
			return outcomes, problems, err
		}
		email, err := AccountEmail(spec, name)
		if err != nil {
			problems = append(problems, domain.NewProblem(domain.SeverityError, name, "", err))
			continue
		}

		if mode == domain.ModeDryRun {
			outcomes = append(outcomes, &Outcome{Name: name, Email: email, State: domain.CreateAccountRequested})
			continue
		}

		out, err := p.Provision(ctx, name, email)
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, problems, ctx.Err()
			}
			problems = append(problems, domain.NewProblem(domain.SeverityWarning, name, "", err))
			continue
		}
		outcomes = append(outcomes, out)
		switch out.State {
		case domain.CreateAccountFailed:
			problems = append(problems, domain.NewProblem(domain.SeverityError, name, "",
				fmt.Errorf("account creation failed: %s", out.Reason)))
		case domain.CreateAccountInProgress:
			problems = append(problems, domain.NewProblem(domain.SeverityWarning, name, "",
				fmt.Errorf("account creation pending: %s", out.Reason)))
		}
	}
	return outcomes, problems, nil
}

// missingAccounts returns the spec account names with no live account, in tree order.
func missingAccounts(spec *domain.Spec, inv *domain.Inventory) []string {
	live := make(map[string]bool, len(inv.Accounts))
	for _, a := range inv.Accounts {
		live[a.Name] = true
	}
	var missing []string
	seen := make(map[string]bool)
	for _, name := range spec.Root().AccountNames() {
		if live[name] || seen[name] {
			continue
		}
		seen[name] = true
		missing = append(missing, name)
	}
	return missing
}

// AccountEmail returns the explicit email declared for name, or one derived
// from the spec's default domain.
func AccountEmail(spec *domain.Spec, name string) (string, error) {
	if email := spec.AccountEmail(name); email != "" {
		return email, nil
	}
	if spec.DefaultDomain == "" {
		return "", fmt.Errorf("account %q has no email and the spec sets no default_domain: %w", name, domain.ErrInvalidInput)
	}
	local := slug(name)
	if local == "" {
		return "", fmt.Errorf("account %q has no email and no letters or digits to derive one from: %w", name, domain.ErrInvalidInput)
	}
	return local + "@" + spec.DefaultDomain, nil
}

func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '+':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
