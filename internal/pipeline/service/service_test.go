package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/pipeline/validate"
	"github.com/harborline/harborline/internal/remote"
)

type fakeResolver struct {
	profile *model.EnvironmentProfile
	err     error
}

func (f *fakeResolver) Resolve(string) (*model.EnvironmentProfile, error) {
	return f.profile, f.err
}

func (f *fakeResolver) ByTier(model.Tier) (*model.EnvironmentProfile, error) {
	return f.profile, f.err
}

type stageLog struct{ order []string }

type fakeVerifier struct {
	log *stageLog
	err error
}

func (f *fakeVerifier) Run(_ context.Context, _, commit, _ string) (*model.VerificationReport, error) {
	f.log.order = append(f.log.order, "verify")
	return &model.VerificationReport{Commit: commit, Aggregate: model.OutcomePass}, f.err
}

type fakePublisher struct {
	log *stageLog
	err error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, tier model.Tier, commit string) (*model.ArtifactVersion, error) {
	f.log.order = append(f.log.order, "publish")
	if f.err != nil {
		return nil, f.err
	}
	return &model.ArtifactVersion{Registry: "registry.internal", Name: "harborline", Tag: string(tier) + "-" + commit[:7]}, nil
}

type fakeGate struct {
	log *stageLog
	err error
}

func (f *fakeGate) Run(context.Context, *model.EnvironmentProfile, string, time.Time, remote.Runner) ([]model.GovernanceCheckResult, error) {
	f.log.order = append(f.log.order, "governance")
	if f.err != nil {
		return []model.GovernanceCheckResult{{Kind: model.CheckBackup, Outcome: model.OutcomeFail}}, f.err
	}
	return []model.GovernanceCheckResult{{Kind: model.CheckBackup, Outcome: model.OutcomePass}}, nil
}

type fakeDeployer struct {
	log *stageLog
	err error
}

func (f *fakeDeployer) Deploy(_ context.Context, requestID string, _ *model.EnvironmentProfile, av model.ArtifactVersion, _ string) (*model.DeploymentRecord, error) {
	f.log.order = append(f.log.order, "deploy")
	if f.err != nil {
		return nil, f.err
	}
	return &model.DeploymentRecord{ID: requestID, Artifact: av, Status: model.RecordSucceeded, IsCurrent: true}, nil
}

type fakeValidator struct {
	log *stageLog
	err error
}

func (f *fakeValidator) Run(_ context.Context, tier model.Tier, _ validate.Target, tag string) (*model.SmokeTestReport, error) {
	f.log.order = append(f.log.order, "validate")
	return &model.SmokeTestReport{Tier: tier, Version: tag, Aggregate: model.OutcomePass}, f.err
}

type fixture struct {
	pipeline  *Pipeline
	log       *stageLog
	verifier  *fakeVerifier
	publisher *fakePublisher
	gate      *fakeGate
	deployer  *fakeDeployer
	validator *fakeValidator
}

func newFixture() *fixture {
	lg := &stageLog{}
	f := &fixture{
		log:       lg,
		verifier:  &fakeVerifier{log: lg},
		publisher: &fakePublisher{log: lg},
		gate:      &fakeGate{log: lg},
		deployer:  &fakeDeployer{log: lg},
		validator: &fakeValidator{log: lg},
	}
	resolver := &fakeResolver{profile: &model.EnvironmentProfile{
		Tier:          model.TierStaging,
		ContainerName: "harborline-staging",
		Port:          8100,
		AgentAddr:     "10.0.0.8:9400",
		HealthPath:    "/health",
	}}
	f.pipeline = NewPipeline(resolver, f.verifier, f.publisher, f.gate, f.deployer, f.validator,
		func(string) remote.Runner { return nil }, "/srv/src")
	return f
}

func input() Input {
	return Input{Ref: "release/staging", Commit: "abc1234def", Initiator: "ci"}
}

func TestRunFullPipelineSucceeds(t *testing.T) {
	f := newFixture()
	res, err := f.pipeline.Run(context.Background(), input())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != model.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", res.Status)
	}
	want := []string{"verify", "publish", "governance", "deploy", "validate"}
	if len(f.log.order) != len(want) {
		t.Fatalf("stage order = %v, want %v", f.log.order, want)
	}
	for i, stage := range want {
		if f.log.order[i] != stage {
			t.Fatalf("stage order = %v, want %v", f.log.order, want)
		}
	}
	if res.Artifact == nil || res.Record == nil || res.SmokeTest == nil {
		t.Error("result missing artifact, record or smoke test report")
	}
	if res.Request.Tier != model.TierStaging {
		t.Errorf("request tier = %s, want staging", res.Request.Tier)
	}
}

func TestRunUnresolvedRefFailsBeforeVerify(t *testing.T) {
	f := newFixture()
	f.pipeline.resolver = &fakeResolver{err: model.ErrNoMatchingProfile}
	res, err := f.pipeline.Run(context.Background(), input())
	if !errors.Is(err, model.ErrNoMatchingProfile) {
		t.Fatalf("error = %v, want ErrNoMatchingProfile", err)
	}
	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if len(f.log.order) != 0 {
		t.Errorf("stages ran after failed resolution: %v", f.log.order)
	}
}

func TestRunVerificationFailureStopsPipeline(t *testing.T) {
	f := newFixture()
	f.verifier.err = model.NewStageError("verify", model.ErrVerificationFailed, "pytest: 3 failed")
	res, err := f.pipeline.Run(context.Background(), input())
	if !errors.Is(err, model.ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if len(f.log.order) != 1 || f.log.order[0] != "verify" {
		t.Errorf("stages after verify failure: %v", f.log.order)
	}
}

func TestRunGovernanceBlockStopsBeforeDeploy(t *testing.T) {
	f := newFixture()
	f.gate.err = model.NewStageError("governance", model.ErrGovernanceBlocked, "backup: older than 24h")
	res, err := f.pipeline.Run(context.Background(), input())
	if !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want ErrGovernanceBlocked", err)
	}
	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	for _, stage := range f.log.order {
		if stage == "deploy" || stage == "validate" {
			t.Errorf("stage %s ran after governance block", stage)
		}
	}
	if len(res.Governance) == 0 {
		t.Error("governance results missing from failed run")
	}
}

func TestRunApprovalTimeoutStatus(t *testing.T) {
	f := newFixture()
	f.deployer.err = model.NewStageError("deploy", model.ErrApprovalTimedOut, "production")
	res, err := f.pipeline.Run(context.Background(), input())
	if !errors.Is(err, model.ErrApprovalTimedOut) {
		t.Fatalf("error = %v, want ErrApprovalTimedOut", err)
	}
	if res.Status != model.StatusAwaitingApprovalTimedOut {
		t.Errorf("status = %s, want awaiting_approval_timed_out", res.Status)
	}
}

func TestRunCancellationStatus(t *testing.T) {
	f := newFixture()
	f.deployer.err = model.NewStageError("deploy", model.ErrCancelled, "context canceled")
	res, err := f.pipeline.Run(context.Background(), input())
	if !errors.Is(err, model.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if res.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", res.Status)
	}
}

func TestRunValidationFailure(t *testing.T) {
	f := newFixture()
	f.validator.err = model.NewStageError("validate", model.ErrValidationFailed, "unhealthy after 5 attempts")
	res, err := f.pipeline.Run(context.Background(), input())
	if !errors.Is(err, model.ErrValidationFailed) {
		t.Fatalf("error = %v, want ErrValidationFailed", err)
	}
	if res.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if res.SmokeTest == nil {
		t.Error("smoke test report missing from failed validation")
	}
}
