package model

import "time"

// Outcome is the three-valued result shared by governance checks, verification
// stages and post-deployment probes.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeWarn Outcome = "warn"
	OutcomeFail Outcome = "fail"
)

// GovernanceCheckKind enumerates the fixed pre-deployment check battery.
type GovernanceCheckKind string

const (
	CheckBackup       GovernanceCheckKind = "backup"
	CheckChangeFreeze GovernanceCheckKind = "change-freeze"
	CheckSecurityScan GovernanceCheckKind = "security-scan"
	CheckDiskSpace    GovernanceCheckKind = "disk-space"
	CheckConnectivity GovernanceCheckKind = "connectivity"
)

// GovernanceCheckResult is one check's verdict within a gate run.
type GovernanceCheckResult struct {
	Kind    GovernanceCheckKind `json:"kind"`
	Outcome Outcome             `json:"outcome"`
	Detail  string              `json:"detail"`
	Waived  bool                `json:"waived,omitempty"`
}

// ProbeKind enumerates post-deployment probes in execution order.
type ProbeKind string

const (
	ProbeConnectivity ProbeKind = "connectivity"
	ProbeHealth       ProbeKind = "health"
	ProbeReadiness    ProbeKind = "readiness"
	ProbeLatency      ProbeKind = "latency"
	ProbeLoadSample   ProbeKind = "load-sample"
)

// ProbeResult records one probe's final verdict and how it got there.
type ProbeResult struct {
	Kind     ProbeKind     `json:"kind"`
	Attempts int           `json:"attempts"`
	Outcome  Outcome       `json:"outcome"`
	Latency  time.Duration `json:"latency"`
	Detail   string        `json:"detail,omitempty"`
}

// SmokeTestReport aggregates the probe sequence run after a deploy or rollback.
// Aggregate fails only when connectivity or health fail; everything else
// downgrades to a warning.
type SmokeTestReport struct {
	Tier       Tier          `json:"tier"`
	Version    string        `json:"version"`
	Probes     []ProbeResult `json:"probes"`
	Aggregate  Outcome       `json:"aggregate"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Warnings returns the probes that degraded without failing the run.
func (r *SmokeTestReport) Warnings() []ProbeResult {
	var out []ProbeResult
	for _, p := range r.Probes {
		if p.Outcome == OutcomeWarn {
			out = append(out, p)
		}
	}
	return out
}

// VerificationStageResult is one verification stage's outcome.
type VerificationStageResult struct {
	Stage    string        `json:"stage"`
	Blocking bool          `json:"blocking"`
	Outcome  Outcome       `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
}

// VerificationReport is the structured artifact emitted by the verification
// runner for later inspection.
type VerificationReport struct {
	Commit    string                    `json:"commit"`
	Stages    []VerificationStageResult `json:"stages"`
	Aggregate Outcome                   `json:"aggregate"`
	CreatedAt time.Time                 `json:"createdAt"`
}
