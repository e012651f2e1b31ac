package model

import "time"

// RequestStatus is the terminal (or in-flight) state of one deployment request.
type RequestStatus string

const (
	StatusPending                 RequestStatus = "pending"
	StatusVerifying               RequestStatus = "verifying"
	StatusPublishing              RequestStatus = "publishing"
	StatusGovernance              RequestStatus = "governance"
	StatusAwaitingApproval        RequestStatus = "awaiting_approval"
	StatusDeploying               RequestStatus = "deploying"
	StatusValidating              RequestStatus = "validating"
	StatusSucceeded               RequestStatus = "succeeded"
	StatusFailed                  RequestStatus = "failed"
	StatusCancelled               RequestStatus = "cancelled"
	StatusAwaitingApprovalTimedOut RequestStatus = "awaiting_approval_timed_out"
)

// Terminal reports whether the status is an end state.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled, StatusAwaitingApprovalTimedOut:
		return true
	}
	return false
}

// DeploymentRequest is created at pipeline start and immutable afterwards.
type DeploymentRequest struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`       // trigger reference (branch/tag)
	Commit    string    `json:"commit"`    // commit identifier from the CI host
	Tier      Tier      `json:"tier"`      // resolved environment tier
	Initiator string    `json:"initiator"`
	CreatedAt time.Time `json:"createdAt"`
}
