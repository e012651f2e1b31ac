// Package remote speaks the narrow command contract with a target host's agent.
// Commands are discrete and idempotent; every result carries the tool's
// diagnostic text so failures can be surfaced verbatim.
package remote

import "context"

// RunResult is the agent's report for one executed command.
type RunResult struct {
	Output string `json:"output"`
	Stderr string `json:"stderr"`
	Error  string `json:"err"`
}

// Diagnostics flattens the result into a single line for error reporting.
func (r *RunResult) Diagnostics() string {
	if r == nil {
		return ""
	}
	if r.Error != "" && r.Stderr != "" {
		return r.Error + ": " + r.Stderr
	}
	if r.Error != "" {
		return r.Error
	}
	return r.Stderr
}

// StartSpec describes the instance the agent should run.
type StartSpec struct {
	ContainerName string            `json:"containerName"`
	ImageRef      string            `json:"imageRef"`
	Port          int               `json:"port"`
	Env           map[string]string `json:"env"` // environment-scoped config, passed through opaquely
}

// Runner is the remote execution contract: the pull/stop/start swap commands
// plus the two read-only queries the governance and validation layers need.
type Runner interface {
	// Pull fetches the image onto the target host. Idempotent.
	Pull(ctx context.Context, imageRef string) (*RunResult, error)
	// Stop stops and removes the named container if present, returning the
	// image reference it was running (empty when nothing ran).
	Stop(ctx context.Context, containerName string) (string, *RunResult, error)
	// Start launches a new instance per spec. The old instance must already be
	// stopped; the agent enforces unique port binding.
	Start(ctx context.Context, spec StartSpec) (*RunResult, error)
	// Started reports process-level readiness of the named container.
	Started(ctx context.Context, containerName string) (bool, *RunResult, error)
	// DiskUsage returns the target host's root filesystem utilization percent.
	DiskUsage(ctx context.Context) (float64, error)
}
