// Package service drives the full deployment pipeline end to end.
package service

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harborline/harborline/internal/metrics"
	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/pipeline/validate"
	"github.com/harborline/harborline/internal/remote"
)

// ProfileResolver maps a trigger reference to an environment profile.
type ProfileResolver interface {
	Resolve(ref string) (*model.EnvironmentProfile, error)
	ByTier(tier model.Tier) (*model.EnvironmentProfile, error)
}

// Verifier runs the pre-publish source checks.
type Verifier interface {
	Run(ctx context.Context, sourceDir, commit, selector string) (*model.VerificationReport, error)
}

// ArtifactPublisher builds and pushes the container image.
type ArtifactPublisher interface {
	Publish(ctx context.Context, sourceDir string, tier model.Tier, commit string) (*model.ArtifactVersion, error)
}

// GovernanceGate runs the pre-deployment check battery.
type GovernanceGate interface {
	Run(ctx context.Context, p *model.EnvironmentProfile, imageRef string, now time.Time, runner remote.Runner) ([]model.GovernanceCheckResult, error)
}

// Deployer performs the gated instance swap.
type Deployer interface {
	Deploy(ctx context.Context, requestID string, p *model.EnvironmentProfile, av model.ArtifactVersion, initiator string) (*model.DeploymentRecord, error)
}

// Validator runs the post-swap probe battery.
type Validator interface {
	Run(ctx context.Context, tier model.Tier, target validate.Target, versionTag string) (*model.SmokeTestReport, error)
}

// Input is one pipeline invocation. Ref selects the environment; Commit is
// the source revision the run builds and deploys.
type Input struct {
	// RequestID is optional; a fresh ID is generated when empty.
	RequestID string
	Ref       string
	Commit    string
	Initiator string
	// StageSelector optionally narrows verification to matching stages.
	StageSelector string
}

// Result carries everything a pipeline run produced before it ended, whether
// it succeeded or not.
type Result struct {
	Request      *model.DeploymentRequest  `json:"request"`
	Status       model.RequestStatus       `json:"status"`
	Verification *model.VerificationReport `json:"verification,omitempty"`
	Artifact     *model.ArtifactVersion    `json:"artifact,omitempty"`
	Governance   []model.GovernanceCheckResult `json:"governance,omitempty"`
	Record       *model.DeploymentRecord   `json:"record,omitempty"`
	SmokeTest    *model.SmokeTestReport    `json:"smokeTest,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// Pipeline runs resolve, verify, publish, govern, deploy and validate in
// order, stopping at the first failing stage.
type Pipeline struct {
	resolver  ProfileResolver
	verifier  Verifier
	publisher ArtifactPublisher
	gate      GovernanceGate
	deployer  Deployer
	validator Validator
	runners   func(agentAddr string) remote.Runner
	sourceDir string
	nowFn     func() time.Time
}

func NewPipeline(
	resolver ProfileResolver,
	verifier Verifier,
	publisher ArtifactPublisher,
	gate GovernanceGate,
	deployer Deployer,
	validator Validator,
	runners func(agentAddr string) remote.Runner,
	sourceDir string,
) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		verifier:  verifier,
		publisher: publisher,
		gate:      gate,
		deployer:  deployer,
		validator: validator,
		runners:   runners,
		sourceDir: sourceDir,
		nowFn:     time.Now,
	}
}

// Run executes the pipeline for one trigger. The returned Result always has a
// terminal status; the error mirrors Result.Error for callers that branch on
// sentinel errors.
func (pl *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	requestID := in.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	req := &model.DeploymentRequest{
		ID:        requestID,
		Ref:       in.Ref,
		Commit:    in.Commit,
		Initiator: in.Initiator,
		CreatedAt: pl.nowFn(),
	}
	res := &Result{Request: req, Status: model.StatusPending}

	profile, err := pl.resolver.Resolve(in.Ref)
	if err != nil {
		return pl.fail(res, "unresolved", err)
	}
	req.Tier = profile.Tier

	log.Info().
		Str("request", req.ID).
		Str("ref", in.Ref).
		Str("commit", in.Commit).
		Str("environment", string(profile.Tier)).
		Str("initiator", in.Initiator).
		Msg("deployment pipeline started")

	res.Status = model.StatusVerifying
	start := pl.nowFn()
	res.Verification, err = pl.verifier.Run(ctx, pl.sourceDir, in.Commit, in.StageSelector)
	metrics.ObserveStage("verify", start)
	if err != nil {
		return pl.fail(res, string(profile.Tier), err)
	}

	res.Status = model.StatusPublishing
	start = pl.nowFn()
	res.Artifact, err = pl.publisher.Publish(ctx, pl.sourceDir, profile.Tier, in.Commit)
	metrics.ObserveStage("publish", start)
	if err != nil {
		return pl.fail(res, string(profile.Tier), err)
	}

	res.Status = model.StatusGovernance
	start = pl.nowFn()
	res.Governance, err = pl.gate.Run(ctx, profile, res.Artifact.Ref(), pl.nowFn(), pl.runners(profile.AgentAddr))
	metrics.ObserveStage("governance", start)
	if err != nil {
		for _, check := range res.Governance {
			if check.Outcome == model.OutcomeFail {
				metrics.GovernanceBlocksTotal.WithLabelValues(string(check.Kind)).Inc()
			}
		}
		return pl.fail(res, string(profile.Tier), err)
	}

	if profile.RequiresApproval {
		res.Status = model.StatusAwaitingApproval
	} else {
		res.Status = model.StatusDeploying
	}
	approvalStart := pl.nowFn()
	res.Record, err = pl.deployer.Deploy(ctx, req.ID, profile, *res.Artifact, in.Initiator)
	if profile.RequiresApproval {
		metrics.ApprovalWaitSeconds.Observe(pl.nowFn().Sub(approvalStart).Seconds())
	}
	if err != nil {
		return pl.fail(res, string(profile.Tier), err)
	}

	res.Status = model.StatusValidating
	start = pl.nowFn()
	res.SmokeTest, err = pl.validator.Run(ctx, profile.Tier, probeTarget(profile), res.Artifact.Tag)
	metrics.ObserveStage("validate", start)
	if err != nil {
		return pl.fail(res, string(profile.Tier), err)
	}

	res.Status = model.StatusSucceeded
	metrics.DeploymentsTotal.WithLabelValues(string(profile.Tier), string(res.Status)).Inc()
	log.Info().
		Str("request", req.ID).
		Str("environment", string(profile.Tier)).
		Str("version", res.Artifact.Tag).
		Int("warnings", len(res.SmokeTest.Warnings())).
		Msg("deployment pipeline succeeded")
	return res, nil
}

func (pl *Pipeline) fail(res *Result, tierLabel string, err error) (*Result, error) {
	switch {
	case errors.Is(err, model.ErrCancelled):
		res.Status = model.StatusCancelled
	case errors.Is(err, model.ErrApprovalTimedOut):
		res.Status = model.StatusAwaitingApprovalTimedOut
	default:
		res.Status = model.StatusFailed
	}
	res.Error = err.Error()
	metrics.DeploymentsTotal.WithLabelValues(tierLabel, string(res.Status)).Inc()
	log.Error().
		Str("request", res.Request.ID).
		Str("environment", tierLabel).
		Str("stage", model.StageOf(err)).
		Err(err).
		Msg("deployment pipeline ended")
	return res, err
}

func probeTarget(p *model.EnvironmentProfile) validate.Target {
	host := p.AgentAddr
	if h, _, err := net.SplitHostPort(p.AgentAddr); err == nil {
		host = h
	}
	return validate.Target{
		Host:       host,
		Port:       p.Port,
		HealthPath: p.HealthPath,
		ReadyPath:  p.ReadyPath,
	}
}
