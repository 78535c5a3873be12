package domain

// CreateAccountState is a state of the account provisioning state machine.
type CreateAccountState string

const (
	// CreateAccountRequested is local only: the request has not been accepted yet.
	CreateAccountRequested  CreateAccountState = "REQUESTED"
	CreateAccountInProgress CreateAccountState = "IN_PROGRESS"
	CreateAccountSucceeded  CreateAccountState = "SUCCEEDED"
	CreateAccountFailed     CreateAccountState = "FAILED"
)

// CreateAccountStatus is the provider's view of a create-account request.
type CreateAccountStatus struct {
	RequestID     string             `json:"request_id"`
	AccountName   string             `json:"account_name"`
	State         CreateAccountState `json:"state"`
	AccountID     string             `json:"account_id,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
}
