package provisioning_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/organizations"
	"github.com/bcnelson/aws-org-manager/internal/provisioning"
)

func fastConfig() provisioning.Config {
	return provisioning.Config{
		SubmitAttempts: 3,
		SubmitDelay:    time.Millisecond,
		PollInterval:   time.Millisecond,
		MaxPolls:       3,
	}
}

func newShim() *organizations.FileShim {
	return organizations.NewMemoryShim(&organizations.ShimState{
		OrganizationID:  "o-test",
		MasterAccountID: "111111111111",
		RootID:          "r-root",
	})
}

func countCalls(shim *organizations.FileShim, kind string) int {
	n := 0
	for _, c := range shim.Calls() {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func TestProvision_Succeeds(t *testing.T) {
	shim := newShim()
	shim.CompleteAfterPolls = 1
	log, _ := logtest.NewNullLogger()
	p := provisioning.New(shim, fastConfig(), log)

	out, err := p.Provision(context.Background(), "team-a", "team-a@example.com")
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if out.State != domain.CreateAccountSucceeded {
		t.Fatalf("State = %s, want SUCCEEDED", out.State)
	}
	if out.AccountID == "" {
		t.Error("expected an account id")
	}

	accounts, _ := shim.ListAccounts(context.Background())
	if len(accounts) != 1 || accounts[0].Name != "team-a" || accounts[0].ID != out.AccountID {
		t.Errorf("unexpected accounts after provisioning: %+v", accounts)
	}
}

func TestProvision_RetriesThrottledSubmit(t *testing.T) {
	shim := newShim()
	shim.ThrottleCreateAccount = 2
	log, _ := logtest.NewNullLogger()
	p := provisioning.New(shim, fastConfig(), log)

	out, err := p.Provision(context.Background(), "team-a", "team-a@example.com")
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	if out.State != domain.CreateAccountSucceeded {
		t.Errorf("State = %s, want SUCCEEDED", out.State)
	}
	if n := countCalls(shim, "create_account"); n != 1 {
		t.Errorf("expected 1 accepted create_account call, got %d", n)
	}
}

func TestProvision_SubmitExhausted(t *testing.T) {
	shim := newShim()
	shim.ThrottleCreateAccount = 10
	log, _ := logtest.NewNullLogger()
	p := provisioning.New(shim, fastConfig(), log)

	_, err := p.Provision(context.Background(), "team-a", "team-a@example.com")
	if err == nil {
		t.Fatal("expected an error after exhausting submit attempts")
	}
	if !strings.Contains(err.Error(), "gave up after 3 attempts") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestProvision_Failed(t *testing.T) {
	shim := newShim()
	shim.FailReasons = map[string]string{"team-a": "EMAIL_ALREADY_EXISTS"}
	log, hook := logtest.NewNullLogger()
	p := provisioning.New(shim, fastConfig(), log)

	out, err := p.Provision(context.Background(), "team-a", "team-a@example.com")
	if err != nil {
		t.Fatalf("Provision returned error: %v", err)
	}
	if out.State != domain.CreateAccountFailed || out.Reason != "EMAIL_ALREADY_EXISTS" {
		t.Errorf("unexpected outcome: %+v", out)
	}
	if n := countCalls(shim, "create_account"); n != 1 {
		t.Errorf("failed requests must not be resubmitted, got %d submissions", n)
	}
	if entry := hook.LastEntry(); entry == nil || entry.Level != logrus.ErrorLevel {
		t.Errorf("expected the failure to be logged at error level, got %+v", entry)
	}
}

func TestProvision_TimesOutThenSkipsResubmission(t *testing.T) {
	shim := newShim()
	shim.CompleteAfterPolls = 100
	log, hook := logtest.NewNullLogger()
	p := provisioning.New(shim, fastConfig(), log)
	ctx := context.Background()

	out, err := p.Provision(ctx, "team-a", "team-a@example.com")
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if out.State != domain.CreateAccountInProgress {
		t.Errorf("State = %s, want IN_PROGRESS", out.State)
	}
	if hook.LastEntry().Level != logrus.WarnLevel {
		t.Errorf("expected a warning, got %s", hook.LastEntry().Level)
	}

	again, err := p.Provision(ctx, "team-a", "team-a@example.com")
	if err != nil {
		t.Fatalf("second Provision failed: %v", err)
	}
	if again.RequestID != out.RequestID {
		t.Errorf("expected the pending request %s to be reported, got %s", out.RequestID, again.RequestID)
	}
	if n := countCalls(shim, "create_account"); n != 1 {
		t.Errorf("expected a single submission, got %d", n)
	}
}

func testSpec() *domain.Spec {
	return &domain.Spec{
		MasterAccountID: "111111111111",
		DefaultPolicy:   "FullAWSAccess",
		DefaultOU:       "Quarantine",
		DefaultDomain:   "example.com",
		OrganizationalUnits: []*domain.SpecOU{{
			Name: "root",
			ChildOU: []*domain.SpecOU{
				{Name: "Engineering", Accounts: []string{"team-a", "Team B"}},
				{Name: "Quarantine", Accounts: []string{"existing", "broken"}},
			},
		}},
		Accounts: []domain.SpecAccount{{Name: "team-a", Email: "aws+team-a@corp.example"}},
	}
}

func TestProvisionMissing(t *testing.T) {
	shim := newShim()
	shim.FailReasons = map[string]string{"broken": "INTERNAL_FAILURE"}
	log, _ := logtest.NewNullLogger()
	p := provisioning.New(shim, fastConfig(), log)

	inv := &domain.Inventory{Accounts: []*domain.Account{{ID: "123456789012", Name: "existing"}}}

	outcomes, problems, err := p.ProvisionMissing(context.Background(), testSpec(), inv, domain.ModeExecute)
	if err != nil {
		t.Fatalf("ProvisionMissing failed: %v", err)
	}

	got := make(map[string]*provisioning.Outcome)
	for _, o := range outcomes {
		got[o.Name] = o
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(got))
	}
	if got["team-a"].Email != "aws+team-a@corp.example" {
		t.Errorf("explicit email not used: %s", got["team-a"].Email)
	}
	if got["Team B"].Email != "team-b@example.com" {
		t.Errorf("default email = %s, want team-b@example.com", got["Team B"].Email)
	}
	if got["broken"].State != domain.CreateAccountFailed {
		t.Errorf("broken state = %s", got["broken"].State)
	}
	if len(problems) != 1 || problems[0].Resource != "broken" || problems[0].Severity != domain.SeverityError {
		t.Errorf("unexpected problems: %+v", problems)
	}
}

func TestProvisionMissing_DryRun(t *testing.T) {
	shim := newShim()
	log, _ := logtest.NewNullLogger()
	p := provisioning.New(shim, fastConfig(), log)

	outcomes, _, err := p.ProvisionMissing(context.Background(), testSpec(), &domain.Inventory{}, domain.ModeDryRun)
	if err != nil {
		t.Fatalf("ProvisionMissing failed: %v", err)
	}
	if len(outcomes) != 4 {
		t.Errorf("expected 4 planned accounts, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o.State != domain.CreateAccountRequested {
			t.Errorf("%s: state %s, want REQUESTED", o.Name, o.State)
		}
	}
	if calls := shim.Calls(); len(calls) != 0 {
		t.Errorf("dry-run issued calls: %+v", calls)
	}
}

func TestAccountEmail(t *testing.T) {
	spec := testSpec()

	tests := []struct {
		name    string
		account string
		domain  string
		want    string
		wantErr bool
	}{
		{"explicit", "team-a", "example.com", "aws+team-a@corp.example", false},
		{"derived", "Shared Services", "example.com", "shared-services@example.com", false},
		{"no domain", "Shared Services", "", "", true},
		{"nothing to derive from", "!!! ---", "example.com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec.DefaultDomain = tt.domain
			got, err := provisioning.AccountEmail(spec, tt.account)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AccountEmail error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if got != tt.want {
				t.Errorf("AccountEmail = %q, want %q", got, tt.want)
			}
		})
	}
}
