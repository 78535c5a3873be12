package handler

import (
	"bytes"
	"io"
	"net/http"

	"github.com/bcnelson/aws-org-manager/internal/domain"
	"github.com/bcnelson/aws-org-manager/internal/provisioning"
	"github.com/bcnelson/aws-org-manager/internal/report"
	"github.com/bcnelson/aws-org-manager/internal/service"
)

// OrganizationHandler handles inventory, plan and reconcile endpoints.
type OrganizationHandler struct {
	svc *service.ReconcileService
}

// NewOrganizationHandler creates a new OrganizationHandler.
func NewOrganizationHandler(svc *service.ReconcileService) *OrganizationHandler {
	return &OrganizationHandler{svc: svc}
}

// RunRequest is the body of the reconcile and provision endpoints.
type RunRequest struct {
	Execute bool `json:"execute"`
}

// ProvisionResponse is returned by the provision endpoint.
type ProvisionResponse struct {
	Mode     domain.Mode             `json:"mode"`
	Accounts []*provisioning.Outcome `json:"accounts"`
	Problems []domain.Problem        `json:"problems,omitempty"`
}

// Inventory returns the live organization as JSON.
func (h *OrganizationHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Report(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

// Report returns the live organization as the plain-text status report.
// The section query parameter selects ou, accounts or policies; default is all three.
func (h *OrganizationHandler) Report(w http.ResponseWriter, r *http.Request) {
	section := r.URL.Query().Get("section")
	writers := map[string]func(io.Writer, *domain.Inventory) error{
		"ou":       report.WriteOrganization,
		"accounts": report.WriteAccounts,
		"policies": report.WritePolicies,
	}
	order := []string{"ou", "accounts", "policies"}
	if section != "" {
		if _, ok := writers[section]; !ok {
			respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "section must be ou, accounts or policies")
			return
		}
		order = []string{section}
	}

	inv, err := h.svc.Report(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}

	var buf bytes.Buffer
	for _, name := range order {
		if err := writers[name](&buf, inv); err != nil {
			handleError(w, err)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Plan returns a dry-run of the configured spec file. Nothing is recorded.
func (h *OrganizationHandler) Plan(w http.ResponseWriter, r *http.Request) {
	desired, err := h.svc.LoadSpec()
	if err != nil {
		handleError(w, err)
		return
	}
	run, err := h.svc.Plan(r.Context(), desired)
	if err != nil {
		handleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// Reconcile runs a reconciliation of the configured spec file, in execute
// mode when the body asks for it.
func (h *OrganizationHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
			return
		}
	}
	mode := domain.ModeDryRun
	if req.Execute {
		mode = domain.ModeExecute
	}
	h.reconcile(w, r, mode)
}

func (h *OrganizationHandler) reconcile(w http.ResponseWriter, r *http.Request, mode domain.Mode) {
	desired, err := h.svc.LoadSpec()
	if err != nil {
		handleError(w, err)
		return
	}

	run, err := h.svc.Reconcile(r.Context(), desired, mode)
	if run == nil || domain.IsFatal(err) {
		handleError(w, err)
		return
	}
	// Per-operation failures are reported in the run itself.
	respondJSON(w, http.StatusOK, run)
}

// Provision creates the accounts of the configured spec file that do not exist yet.
func (h *OrganizationHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, domain.ErrCodeInvalidInput, "invalid request body")
			return
		}
	}
	mode := domain.ModeDryRun
	if req.Execute {
		mode = domain.ModeExecute
	}

	desired, err := h.svc.LoadSpec()
	if err != nil {
		handleError(w, err)
		return
	}
	outcomes, problems, err := h.svc.Provision(r.Context(), desired, mode)
	if err != nil {
		handleError(w, err)
		return
	}
	if outcomes == nil {
		outcomes = []*provisioning.Outcome{}
	}
	respondJSON(w, http.StatusOK, &ProvisionResponse{Mode: mode, Accounts: outcomes, Problems: problems})
}
