// Package rollback restores an environment to a previously deployed version.
package rollback

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harborline/harborline/internal/metrics"
	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/pipeline/validate"
)

// HistoryStore is the slice of the database the controller needs.
type HistoryStore interface {
	GetCurrentDeployment(ctx context.Context, tier model.Tier) (*model.DeploymentRecord, error)
	LatestSucceededExcludingCurrent(ctx context.Context, tier model.Tier) (*model.DeploymentRecord, error)
	CreateRollbackRecord(ctx context.Context, rec *model.RollbackRecord) error
}

// Deployer performs the gated instance swap. Rollbacks reuse the deployment
// executor, so environment serialization and manual approval apply unchanged.
type Deployer interface {
	Deploy(ctx context.Context, requestID string, p *model.EnvironmentProfile, av model.ArtifactVersion, initiator string) (*model.DeploymentRecord, error)
}

// Validator runs the post-swap probe battery.
type Validator interface {
	Run(ctx context.Context, tier model.Tier, target validate.Target, versionTag string) (*model.SmokeTestReport, error)
}

// Request describes one rollback invocation. TargetVersion is optional; when
// empty the controller selects the most recent succeeded non-current version.
type Request struct {
	TargetVersion string
	Reason        string
	Initiator     string
}

// Config carries the registry coordinates used to rebuild an image reference
// from a bare version tag.
type Config struct {
	Registry  string
	ImageName string
}

// Controller resolves the rollback target and replays it through the
// executor. Every invocation leaves an audit record, including ones that fail
// before touching the host.
type Controller struct {
	cfg      Config
	history  HistoryStore
	deployer Deployer
	probes   Validator
	nowFn    func() time.Time
}

func NewController(cfg Config, history HistoryStore, deployer Deployer, probes Validator) *Controller {
	return &Controller{
		cfg:      cfg,
		history:  history,
		deployer: deployer,
		probes:   probes,
		nowFn:    time.Now,
	}
}

// Rollback restores the environment to the target version. Target resolution
// is fail-closed: when no prior succeeded version exists the controller
// records the failure and returns without any host action.
func (c *Controller) Rollback(ctx context.Context, p *model.EnvironmentProfile, req Request) (*model.RollbackRecord, *model.SmokeTestReport, error) {
	rec := &model.RollbackRecord{
		ID:        uuid.New().String(),
		Tier:      p.Tier,
		Reason:    req.Reason,
		Initiator: req.Initiator,
		Status:    model.RecordFailed,
		CreatedAt: c.nowFn(),
	}
	defer func() {
		metrics.RollbacksTotal.WithLabelValues(string(p.Tier), string(rec.Status)).Inc()
		if err := c.history.CreateRollbackRecord(context.WithoutCancel(ctx), rec); err != nil {
			log.Error().Err(err).Str("tier", string(p.Tier)).Msg("failed to persist rollback record")
		}
	}()

	current, err := c.history.GetCurrentDeployment(ctx, p.Tier)
	if err != nil {
		return rec, nil, model.NewStageError("rollback", model.ErrDeploymentFailed, err.Error())
	}
	if current != nil {
		rec.SourceVersion = current.Artifact.Tag
	}

	target, err := c.resolveTarget(ctx, p.Tier, req.TargetVersion, current)
	if err != nil {
		return rec, nil, err
	}
	rec.TargetVersion = target.Tag

	log.Info().
		Str("tier", string(p.Tier)).
		Str("from", rec.SourceVersion).
		Str("to", rec.TargetVersion).
		Str("initiator", req.Initiator).
		Msg("rolling back environment")

	if _, err := c.deployer.Deploy(ctx, rec.ID, p, target, req.Initiator); err != nil {
		return rec, nil, err
	}

	report, err := c.probes.Run(ctx, p.Tier, probeTarget(p), target.Tag)
	if err != nil {
		return rec, report, err
	}

	rec.Status = model.RecordSucceeded
	return rec, report, nil
}

// resolveTarget picks the version to restore. An explicit tag is trusted as-is
// and rebuilt into a full image reference from the registry coordinates; the
// automatic path requires a succeeded, non-current deployment record.
func (c *Controller) resolveTarget(ctx context.Context, tier model.Tier, explicit string, current *model.DeploymentRecord) (model.ArtifactVersion, error) {
	if explicit != "" {
		if current != nil && current.Artifact.Tag == explicit {
			return model.ArtifactVersion{}, model.NewStageError("rollback", model.ErrNoPriorVersionAvailable,
				"target version is already current")
		}
		return model.ArtifactVersion{
			Registry: c.cfg.Registry,
			Name:     c.cfg.ImageName,
			Tag:      explicit,
		}, nil
	}
	prev, err := c.history.LatestSucceededExcludingCurrent(ctx, tier)
	if err != nil {
		return model.ArtifactVersion{}, model.NewStageError("rollback", model.ErrDeploymentFailed, err.Error())
	}
	if prev == nil {
		return model.ArtifactVersion{}, model.NewStageError("rollback", model.ErrNoPriorVersionAvailable, string(tier))
	}
	return prev.Artifact, nil
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
