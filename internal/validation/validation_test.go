package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/bcnelson/aws-org-manager/internal/domain"
)

func TestValidateOUName(t *testing.T) {
	tests := []struct {
		name    string
		ou      string
		wantErr bool
	}{
		{"simple name", "Engineering", false},
		{"name with spaces", "Shared Services", false},
		{"name with punctuation", "prod-eu_1", false},
		{"empty", "", true},
		{"only spaces", "   ", true},
		{"too long", strings.Repeat("a", 129), true},
		{"control character", "eng\tineering", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOUName(tt.ou)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOUName(%q) error = %v, wantErr %v", tt.ou, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAccountName(t *testing.T) {
	tests := []struct {
		name    string
		account string
		wantErr bool
	}{
		{"simple name", "team-a", false},
		{"fifty characters", strings.Repeat("x", 50), false},
		{"fifty one characters", strings.Repeat("x", 51), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAccountName(tt.account)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAccountName(%q) error = %v, wantErr %v", tt.account, err, tt.wantErr)
			}
		})
	}
}

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid email", "aws+team-a@example.com", false},
		{"missing at", "example.com", true},
		{"starts with at", "@example.com", true},
		{"missing domain", "team@", true},
		{"domain without dot", "team@example", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail(%q) error = %v, wantErr %v", tt.email, err, tt.wantErr)
			}
		})
	}
}

func validSpec() *domain.Spec {
	return &domain.Spec{
		MasterAccountID: "111111111111",
		DefaultPolicy:   "FullAWSAccess",
		DefaultOU:       "Quarantine",
		SCPolicies: []domain.SpecPolicy{
			{Name: "deny-root-user", Description: "deny root", Effect: "Deny", Actions: []string{"*"}},
		},
		OrganizationalUnits: []*domain.SpecOU{{
			Name: "root",
			ChildOU: []*domain.SpecOU{
				{Name: "Engineering", Accounts: []string{"team-a"}, SCPolicies: []string{"deny-root-user"}},
				{Name: "Quarantine"},
			},
		}},
	}
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *domain.Spec)
		wantErr string
	}{
		{"valid", func(s *domain.Spec) {}, ""},
		{"missing root", func(s *domain.Spec) { s.OrganizationalUnits[0].Name = "top" }, "root"},
		{"root absent", func(s *domain.Spec) { s.OrganizationalUnits[0].Ensure = domain.EnsureAbsent }, "root cannot be marked absent"},
		{"default ou not in tree", func(s *domain.Spec) { s.DefaultOU = "Nowhere" }, "default_ou"},
		{"duplicate policy", func(s *domain.Spec) { s.SCPolicies = append(s.SCPolicies, s.SCPolicies[0]) }, "declared more than once"},
		{"duplicate sibling", func(s *domain.Spec) {
			root := s.OrganizationalUnits[0]
			root.ChildOU = append(root.ChildOU, &domain.SpecOU{Name: "Engineering"})
		}, "duplicate sibling"},
		{"default policy absent", func(s *domain.Spec) {
			s.SCPolicies = append(s.SCPolicies, domain.SpecPolicy{Name: "FullAWSAccess", Ensure: domain.EnsureAbsent})
		}, "default policy cannot be marked absent"},
		{"bad account email", func(s *domain.Spec) {
			s.Accounts = []domain.SpecAccount{{Name: "team-a", Email: "nope"}}
		}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(spec)
			err := ValidateSpec(spec)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateSpec() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateSpec() expected error containing %q", tt.wantErr)
			}
			if !errors.Is(err, domain.ErrInvalidSpec) {
				t.Errorf("expected ErrInvalidSpec, got %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs {
				if strings.Contains(e.Error(), tt.wantErr) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected an error containing %q, got %v", tt.wantErr, verrs)
			}
		})
	}
}

func TestValidateUniqueAccounts(t *testing.T) {
	spec := validSpec()
	if err := ValidateUniqueAccounts(spec.Root()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spec.Root().ChildOU[1].Accounts = []string{"team-a"}
	err := ValidateUniqueAccounts(spec.Root())
	if !errors.Is(err, domain.ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
	if !strings.Contains(err.Error(), "Engineering, Quarantine") {
		t.Errorf("expected both OUs in error, got %v", err)
	}
	if !domain.IsFatal(err) {
		t.Error("duplicate account must be fatal")
	}
}

func TestAccountOwners_FreshPerCall(t *testing.T) {
	spec := validSpec()

	first := AccountOwners(spec.Root())
	second := AccountOwners(spec.Root())

	if len(second["team-a"]) != 1 {
		t.Errorf("expected a single owner on repeated calls, got %v", second["team-a"])
	}
	first["team-a"] = append(first["team-a"], "leak")
	if third := AccountOwners(spec.Root()); len(third["team-a"]) != 1 {
		t.Errorf("owner map shared between calls: %v", third["team-a"])
	}
}

func TestValidateMasterAccount(t *testing.T) {
	spec := validSpec()

	if err := ValidateMasterAccount(spec, &domain.Organization{ID: "o-1", MasterAccountID: "111111111111"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := ValidateMasterAccount(spec, &domain.Organization{ID: "o-2", MasterAccountID: "222222222222"})
	if !errors.Is(err, domain.ErrMasterAccountMismatch) {
		t.Errorf("expected ErrMasterAccountMismatch, got %v", err)
	}
}
