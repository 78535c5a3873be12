// Package report renders the organization and reconciliation results as
// operator-facing text.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/provisioning"
)

const tab = "  "

func header(w io.Writer, title string) {
	fmt.Fprintf(w, "%s\n%s\n", strings.Repeat("_", len(title)), title)
}

// WriteOrganization writes the OU tree from root. Each unit lists its
// attached policies, its sorted member accounts and then its children.
func WriteOrganization(w io.Writer, inv *domain.Inventory) error {
	root, err := inv.Root()
	if err != nil {
		return err
	}
	header(w, "Provisioned Organizational Units in Org:")
	writeOU(w, inv, root, 0)
	return nil
}

func writeOU(w io.Writer, inv *domain.Inventory, ou *domain.OrganizationalUnit, depth int) {
	indent := strings.Repeat(tab, depth)
	fmt.Fprintf(w, "%s%s:\n", indent, ou.Name)
	if len(ou.PolicyNames) > 0 {
		fmt.Fprintf(w, "%s%sPolicies: %s\n", indent, tab, strings.Join(ou.PolicyNames, ", "))
	}
	if len(ou.AccountNames) > 0 {
		accounts := append([]string(nil), ou.AccountNames...)
		sort.Strings(accounts)
		fmt.Fprintf(w, "%s%sAccounts: %s\n", indent, tab, strings.Join(accounts, ", "))
	}

	children := inv.Children(ou.ID)
	if len(children) == 0 {
		return
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	fmt.Fprintf(w, "%s%sChild_OU:\n", indent, tab)
	for _, c := range children {
		writeOU(w, inv, c, depth+2)
	}
}

// WritePolicies writes every policy with its document pretty-printed.
func WritePolicies(w io.Writer, inv *domain.Inventory) error {
	header(w, "Provisioned Service Control Policies:")
	policies := append([]*domain.Policy(nil), inv.Policies...)
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	for _, p := range policies {
		fmt.Fprintf(w, "\nName:\t\t%s\n", p.Name)
		fmt.Fprintf(w, "Description:\t%s\n", p.Description)
		fmt.Fprintf(w, "Id:\t%s\n", p.ID)
		fmt.Fprintln(w, "Content:")
		if p.Content == "" {
			continue
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, []byte(p.Content), "", "  "); err != nil {
			return fmt.Errorf("policy %q has malformed content: %w", p.Name, err)
		}
		fmt.Fprintln(w, buf.String())
	}
	return nil
}

// WriteAccounts writes a name, id and email table sorted by name.
func WriteAccounts(w io.Writer, inv *domain.Inventory) error {
	header(w, "Provisioned Accounts in Org:")
	accounts := append([]*domain.Account(nil), inv.Accounts...)
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, a := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", a.Name, a.ID, a.Email)
	}
	return tw.Flush()
}

// WriteRun writes every operation of run with its status, then every
// problem, then the run status.
func WriteRun(w io.Writer, run *domain.Run) error {
	header(w, fmt.Sprintf("Operations (%s):", run.Mode))
	if len(run.Operations) == 0 {
		fmt.Fprintln(w, "No changes.")
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, op := range run.Operations {
		line := fmt.Sprintf("%s\t%s", op.Status, domain.Operation{Kind: op.Kind, Name: op.Name, OU: op.OU})
		if op.Error != "" {
			line += "\t" + op.Error
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(run.Problems) > 0 {
		fmt.Fprintln(w)
		header(w, "Problems:")
		for _, p := range run.Problems {
			where := p.Resource
			if p.OU != "" {
				where += " (OU " + p.OU + ")"
			}
			fmt.Fprintf(w, "%s: %s: %s\n", p.Severity, where, p.Message)
		}
	}

	fmt.Fprintln(w)
	WriteOrphans(w, run.Orphans)
	fmt.Fprintf(w, "Run %s %s\n", run.ID, run.Status)
	return nil
}

// WriteOrphans writes the resources the spec does not reach.
func WriteOrphans(w io.Writer, orphans *domain.OrphanReport) {
	if orphans == nil || orphans.Empty() {
		return
	}
	header(w, "Unmanaged resources:")
	for _, row := range []struct {
		kind  string
		names []string
	}{
		{"Accounts", orphans.Accounts},
		{"Organizational units", orphans.OUs},
		{"Policies", orphans.Policies},
	} {
		if len(row.names) > 0 {
			fmt.Fprintf(w, "%s%s: %s\n", tab, row.kind, strings.Join(row.names, ", "))
		}
	}
}

// WriteProvisioning writes the outcome of each create-account request.
func WriteProvisioning(w io.Writer, outcomes []*provisioning.Outcome) error {
	header(w, "Account provisioning:")
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No accounts to create.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", o.Name, o.State, o.AccountID, o.Reason)
	}
	return tw.Flush()
}
