// Package executor performs the gated instance swap on a target host.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/remote"
	"github.com/rs/zerolog/log"
)

// RecordStore is the slice of the database the executor needs.
type RecordStore interface {
	CreateDeploymentRecord(ctx context.Context, rec *model.DeploymentRecord) error
	FinishDeploymentRecord(ctx context.Context, id string, status model.RecordStatus, diagnostics string, finishedAt time.Time) error
	PromoteCurrent(ctx context.Context, tier model.Tier, id string) error
	GetCurrentDeployment(ctx context.Context, tier model.Tier) (*model.DeploymentRecord, error)
}

// RunnerFactory builds the remote runner for one target host.
type RunnerFactory func(agentAddr string) remote.Runner

// Config bounds the executor's waits.
type Config struct {
	ApprovalWait  time.Duration // bounded wait for the approval signal
	ApprovalPoll  time.Duration // decision poll period
	LockTTL       time.Duration // per-environment lease TTL
	StartAttempts int           // process-readiness poll attempts
	StartDelay    time.Duration // delay between readiness polls
}

// Executor swaps the running instance for a new artifact version, honoring the
// manual-approval gate and per-environment serialization. Failure at any swap
// step aborts immediately without reverting; rollback is the recovery path.
type Executor struct {
	cfg       Config
	records   RecordStore
	approvals ApprovalStore
	leases    LeaseManager
	runners   RunnerFactory

	// injectable for tests
	sleepFn func(time.Duration)
	nowFn   func() time.Time
}

func New(cfg Config, records RecordStore, approvals ApprovalStore, leases LeaseManager, runners RunnerFactory) *Executor {
	if cfg.ApprovalPoll <= 0 {
		cfg.ApprovalPoll = 5 * time.Second
	}
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = 10
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	return &Executor{
		cfg:       cfg,
		records:   records,
		approvals: approvals,
		leases:    leases,
		runners:   runners,
		sleepFn:   time.Sleep,
		nowFn:     time.Now,
	}
}

// WithClock overrides sleep and now, for tests.
func (e *Executor) WithClock(sleepFn func(time.Duration), nowFn func() time.Time) *Executor {
	e.sleepFn = sleepFn
	e.nowFn = nowFn
	return e
}

// Deploy runs the full gated swap for one request. The returned record is nil
// when the operation never reached the swap (busy environment, approval
// timeout, cancellation before teardown).
func (e *Executor) Deploy(ctx context.Context, requestID string, p *model.EnvironmentProfile, av model.ArtifactVersion, initiator string) (*model.DeploymentRecord, error) {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ownerID := requestID

	ok, err := e.leases.Acquire(ctx, p.Tier, ownerID, e.cfg.LockTTL)
	if err != nil {
		return nil, model.NewStageError("deploy", model.ErrDeploymentFailed, fmt.Sprintf("lease acquire: %v", err))
	}
	if !ok {
		return nil, model.NewStageError("deploy", model.ErrEnvironmentBusy, string(p.Tier))
	}
	defer func() {
		if rerr := e.leases.Release(context.WithoutCancel(ctx), p.Tier, ownerID); rerr != nil {
			log.Error().Err(rerr).Str("tier", string(p.Tier)).Msg("failed to release environment lease")
		}
	}()

	if p.RequiresApproval {
		if err := e.awaitApproval(ctx, requestID, p, av, initiator); err != nil {
			return nil, err
		}
	}

	// cancellation is honored up to here; once teardown of the old instance
	// starts, the swap runs to completion or definitive failure
	if err := ctx.Err(); err != nil {
		return nil, model.NewStageError("deploy", model.ErrCancelled, err.Error())
	}

	return e.swap(ctx, requestID, p, av, initiator)
}

func (e *Executor) awaitApproval(ctx context.Context, requestID string, p *model.EnvironmentProfile, av model.ArtifactVersion, initiator string) error {
	now := e.nowFn()
	pending := &PendingApproval{
		RequestID:   requestID,
		Tier:        p.Tier,
		VersionTag:  av.Tag,
		Initiator:   initiator,
		RequestedAt: now,
		ExpiresAt:   now.Add(e.cfg.ApprovalWait),
	}
	if err := e.approvals.CreatePending(ctx, pending, e.cfg.ApprovalWait); err != nil {
		return model.NewStageError("approval", model.ErrDeploymentFailed, err.Error())
	}
	defer func() {
		if cerr := e.approvals.ClearPending(context.WithoutCancel(ctx), p.Tier); cerr != nil {
			log.Error().Err(cerr).Str("tier", string(p.Tier)).Msg("failed to clear pending approval")
		}
	}()

	for e.nowFn().Before(pending.ExpiresAt) {
		select {
		case <-ctx.Done():
			log.Warn().Str("request_id", requestID).Msg("approval wait cancelled")
			return model.NewStageError("approval", model.ErrCancelled, ctx.Err().Error())
		default:
		}

		d, err := e.approvals.GetDecision(ctx, requestID)
		if err != nil {
			return model.NewStageError("approval", model.ErrDeploymentFailed, err.Error())
		}
		if d != nil {
			if !d.Approved {
				log.Warn().Str("request_id", requestID).Str("approver", d.Approver).Msg("deployment rejected by approver")
				return model.NewStageError("approval", model.ErrCancelled, fmt.Sprintf("rejected by %s", d.Approver))
			}
			log.Info().Str("request_id", requestID).Str("approver", d.Approver).Msg("deployment approved")
			return nil
		}
		e.sleepFn(e.cfg.ApprovalPoll)
	}

	log.Warn().
		Str("request_id", requestID).
		Str("tier", string(p.Tier)).
		Dur("waited", e.cfg.ApprovalWait).
		Msg("approval wait timed out")
	return model.NewStageError("approval", model.ErrApprovalTimedOut, string(p.Tier))
}

// swap performs pull → stop-old → start-new → wait-started. The steps are
// strictly ordered: the old instance must release the port before the new one
// binds it. No automatic revert on partial failure.
func (e *Executor) swap(ctx context.Context, requestID string, p *model.EnvironmentProfile, av model.ArtifactVersion, initiator string) (*model.DeploymentRecord, error) {
	runner := e.runners(p.AgentAddr)
	rec := &model.DeploymentRecord{
		ID:        requestID,
		Tier:      p.Tier,
		Artifact:  av,
		Status:    model.RecordInProgress,
		Initiator: initiator,
		StartedAt: e.nowFn().UTC(),
	}
	if err := e.records.CreateDeploymentRecord(ctx, rec); err != nil {
		return nil, model.NewStageError("deploy", model.ErrDeploymentFailed, err.Error())
	}

	fail := func(step string, diag string) (*model.DeploymentRecord, error) {
		rec.Status = model.RecordFailed
		rec.Diagnostics = fmt.Sprintf("%s: %s", step, diag)
		if ferr := e.records.FinishDeploymentRecord(context.WithoutCancel(ctx), rec.ID, rec.Status, rec.Diagnostics, e.nowFn().UTC()); ferr != nil {
			log.Error().Err(ferr).Str("record", rec.ID).Msg("failed to persist deployment failure")
		}
		log.Error().
			Str("tier", string(p.Tier)).
			Str("version", av.Tag).
			Str("step", step).
			Str("diag", diag).
			Msg("deployment step failed")
		return rec, model.NewStageError("deploy", model.ErrDeploymentFailed, diag)
	}

	// 1. pull the artifact to the target host
	if res, err := runner.Pull(ctx, av.Ref()); err != nil {
		return fail("pull", diagOr(res, err))
	}

	// From here cancellation is not honored: a half-torn-down environment must
	// never be left unattended.
	swapCtx := context.WithoutCancel(ctx)

	// 2. stop and remove the current instance, capturing its version
	prevImage, res, err := runner.Stop(swapCtx, p.ContainerName)
	if err != nil {
		return fail("stop", diagOr(res, err))
	}
	if prevImage != "" {
		log.Info().Str("tier", string(p.Tier)).Str("previous", prevImage).Msg("previous instance removed")
	}

	// 3. start the new instance on the tier's fixed port
	spec := remote.StartSpec{
		ContainerName: p.ContainerName,
		ImageRef:      av.Ref(),
		Port:          p.Port,
		Env:           p.RuntimeEnv,
	}
	if res, err := runner.Start(swapCtx, spec); err != nil {
		return fail("start", diagOr(res, err))
	}

	// 4. wait for process-level readiness
	started := false
	var lastDiag string
	for i := 0; i < e.cfg.StartAttempts; i++ {
		up, res, err := runner.Started(swapCtx, p.ContainerName)
		if err != nil {
			lastDiag = diagOr(res, err)
		} else if up {
			started = true
			break
		} else {
			lastDiag = "container not yet running"
		}
		e.sleepFn(e.cfg.StartDelay)
	}
	if !started {
		return fail("wait-started", lastDiag)
	}

	rec.Status = model.RecordSucceeded
	finishedAt := e.nowFn().UTC()
	rec.FinishedAt = &finishedAt
	if err := e.records.FinishDeploymentRecord(swapCtx, rec.ID, rec.Status, "", finishedAt); err != nil {
		return fail("record", err.Error())
	}
	// the new instance is confirmed started; flip the current pointer under
	// the lease we still hold
	if err := e.records.PromoteCurrent(swapCtx, p.Tier, rec.ID); err != nil {
		return fail("record", err.Error())
	}
	rec.IsCurrent = true

	log.Info().
		Str("tier", string(p.Tier)).
		Str("version", av.Tag).
		Str("record", rec.ID).
		Msg("instance swapped")
	return rec, nil
}

func diagOr(res *remote.RunResult, err error) string {
	if d := res.Diagnostics(); d != "" {
		return d
	}
	return err.Error()
}
