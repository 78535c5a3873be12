package domain

import "time"

// Mode selects whether a run issues mutating calls.
type Mode string

const (
	ModeDryRun  Mode = "dry_run"
	ModeExecute Mode = "execute"
)

// Run status values.
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusPartial   = "partial" // completed with skipped or failed operations
	RunStatusFailed    = "failed"
	RunStatusAborted   = "aborted" // fatal configuration error, nothing mutated
)

// Operation status values.
const (
	OpStatusPlanned = "planned"
	OpStatusApplied = "applied"
	OpStatusFailed  = "failed"
	OpStatusSkipped = "skipped"
)

// Run is the audit record of one reconciliation. It is never read back to compute a diff.
type Run struct {
	ID              string          `json:"id" db:"id"`
	Mode            Mode            `json:"mode" db:"mode"`
	Status          string          `json:"status" db:"status"`
	MasterAccountID string          `json:"master_account_id" db:"master_account_id"`
	Error           string          `json:"error,omitempty" db:"error"`
	StartedAt       time.Time       `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	Operations      []*RunOperation `json:"operations,omitempty" db:"-"`
	Problems        []Problem       `json:"problems,omitempty" db:"-"`
	Orphans         *OrphanReport   `json:"orphans,omitempty" db:"-"`
}

// RunOperation is one operation of a run and its outcome.
type RunOperation struct {
	RunID  string        `json:"run_id" db:"run_id"`
	Seq    int           `json:"seq" db:"seq"`
	Kind   OperationKind `json:"kind" db:"kind"`
	Name   string        `json:"name" db:"name"`
	OU     string        `json:"ou,omitempty" db:"ou"`
	Status string        `json:"status" db:"status"`
	Error  string        `json:"error,omitempty" db:"error"`
}

// OrphanReport lists live resources that are not reachable from the spec.
type OrphanReport struct {
	Accounts []string `json:"accounts,omitempty"`
	OUs      []string `json:"organizational_units,omitempty"`
	Policies []string `json:"policies,omitempty"`
}

// Empty reports whether no orphan was found.
func (r *OrphanReport) Empty() bool {
	return len(r.Accounts) == 0 && len(r.OUs) == 0 && len(r.Policies) == 0
}
