package model

import "time"

// RecordStatus is the outcome stored on deployment and rollback records.
type RecordStatus string

const (
	RecordInProgress RecordStatus = "in_progress"
	RecordSucceeded  RecordStatus = "succeeded"
	RecordFailed     RecordStatus = "failed"
)

// DeploymentRecord is written on every executor invocation. The most recent
// succeeded record per environment is the rollback source of truth; exactly one
// record is current per environment at any time.
type DeploymentRecord struct {
	ID          string       `json:"id" db:"id"`
	Tier        Tier         `json:"tier" db:"environment"`
	Artifact    ArtifactVersion `json:"artifact"`
	Status      RecordStatus `json:"status" db:"status"`
	Initiator   string       `json:"initiator" db:"initiator"`
	StartedAt   time.Time    `json:"startedAt" db:"started_at"`
	FinishedAt  *time.Time   `json:"finishedAt,omitempty" db:"finished_at"`
	IsCurrent   bool         `json:"isCurrent" db:"is_current"`
	Diagnostics string       `json:"diagnostics,omitempty" db:"diagnostics"`
}

// RollbackRecord is an append-only audit entry produced by the rollback
// controller regardless of outcome.
type RollbackRecord struct {
	ID            string       `json:"id" db:"id"`
	Tier          Tier         `json:"tier" db:"environment"`
	SourceVersion string       `json:"sourceVersion" db:"source_version"` // version current before the rollback
	TargetVersion string       `json:"targetVersion" db:"target_version"`
	Reason        string       `json:"reason" db:"reason"`
	Initiator     string       `json:"initiator" db:"initiator"`
	Status        RecordStatus `json:"status" db:"status"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}
