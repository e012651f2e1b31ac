// Package governance runs the pre-deployment compliance gate.
package governance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/remote"
	"github.com/rs/zerolog/log"
)

// BackupStore reads the environment backup log.
type BackupStore interface {
	LatestBackupAt(ctx context.Context, tier model.Tier) (time.Time, bool, error)
}

// VulnerabilityScanner reports finding counts for an image.
type VulnerabilityScanner interface {
	Scan(ctx context.Context, imageRef string) (*ScanSummary, error)
}

// DiskUsageSource answers host disk utilization queries from monitoring.
type DiskUsageSource interface {
	DiskUsagePercent(ctx context.Context, host string) (float64, bool, error)
}

// Config is the gate's tunables, parsed once at startup.
type Config struct {
	MaxBackupAge   time.Duration
	DiskThreshold  float64
	Freeze         FreezeWindow
	Waived         []model.GovernanceCheckKind
	ConnectTimeout time.Duration
}

// Gate evaluates the fixed ordered battery of checks against an environment.
// Every check runs even after a failure so the audit trail is complete; the
// gate passes only when no unwaived check fails.
type Gate struct {
	cfg     Config
	backups BackupStore
	scanner VulnerabilityScanner // nil when no scanner is configured
	disk    DiskUsageSource      // nil when monitoring is unavailable
	waived  map[model.GovernanceCheckKind]bool
}

func NewGate(cfg Config, backups BackupStore, scanner VulnerabilityScanner, disk DiskUsageSource) *Gate {
	waived := make(map[model.GovernanceCheckKind]bool, len(cfg.Waived))
	for _, k := range cfg.Waived {
		waived[k] = true
	}
	return &Gate{cfg: cfg, backups: backups, scanner: scanner, disk: disk, waived: waived}
}

type checkFn func(ctx context.Context, p *model.EnvironmentProfile, imageRef string, now time.Time, runner remote.Runner) model.GovernanceCheckResult

// Run executes the battery in order. The returned error is non-nil exactly
// when an unwaived check failed; results are returned either way.
func (g *Gate) Run(ctx context.Context, p *model.EnvironmentProfile, imageRef string, now time.Time, runner remote.Runner) ([]model.GovernanceCheckResult, error) {
	// ordered check list; the grouping is data, not control flow
	battery := []struct {
		kind model.GovernanceCheckKind
		run  checkFn
	}{
		{model.CheckBackup, g.checkBackup},
		{model.CheckChangeFreeze, g.checkFreeze},
		{model.CheckSecurityScan, g.checkScan},
		{model.CheckDiskSpace, g.checkCapacity},
		{model.CheckConnectivity, g.checkConnectivity},
	}

	results := make([]model.GovernanceCheckResult, 0, len(battery))
	var failing []string
	for _, c := range battery {
		res := c.run(ctx, p, imageRef, now, runner)
		if g.waived[res.Kind] && res.Outcome == model.OutcomeFail {
			res.Outcome = model.OutcomeWarn
			res.Waived = true
			log.Warn().Str("check", string(res.Kind)).Str("detail", res.Detail).Msg("failing governance check waived by config")
		}
		switch res.Outcome {
		case model.OutcomeFail:
			failing = append(failing, fmt.Sprintf("%s: %s", res.Kind, res.Detail))
			log.Warn().Str("check", string(res.Kind)).Str("detail", res.Detail).Msg("governance check failed")
		case model.OutcomeWarn:
			log.Info().Str("check", string(res.Kind)).Str("detail", res.Detail).Msg("governance check warned")
		}
		results = append(results, res)
	}

	if len(failing) > 0 {
		return results, model.NewStageError("governance", model.ErrGovernanceBlocked, strings.Join(failing, "; "))
	}
	return results, nil
}

func (g *Gate) checkBackup(ctx context.Context, p *model.EnvironmentProfile, _ string, now time.Time, _ remote.Runner) model.GovernanceCheckResult {
	res := model.GovernanceCheckResult{Kind: model.CheckBackup, Outcome: model.OutcomePass}
	takenAt, ok, err := g.backups.LatestBackupAt(ctx, p.Tier)
	if err != nil {
		res.Outcome = model.OutcomeFail
		res.Detail = fmt.Sprintf("backup log unavailable: %v", err)
		return res
	}
	if !ok {
		res.Outcome = model.OutcomeFail
		res.Detail = "no backup ever recorded for environment"
		return res
	}
	age := now.Sub(takenAt)
	if age > g.cfg.MaxBackupAge {
		res.Outcome = model.OutcomeFail
		res.Detail = fmt.Sprintf("last backup %s old, max %s", age.Round(time.Minute), g.cfg.MaxBackupAge)
		return res
	}
	res.Detail = fmt.Sprintf("last backup %s ago", age.Round(time.Minute))
	return res
}

func (g *Gate) checkFreeze(_ context.Context, _ *model.EnvironmentProfile, _ string, now time.Time, _ remote.Runner) model.GovernanceCheckResult {
	res := model.GovernanceCheckResult{Kind: model.CheckChangeFreeze, Outcome: model.OutcomePass}
	if covered, reason := g.cfg.Freeze.Covers(now); covered {
		res.Outcome = model.OutcomeFail
		res.Detail = reason
		return res
	}
	res.Detail = "outside freeze window"
	return res
}

// checkScan blocks on critical findings only; high and medium findings warn.
func (g *Gate) checkScan(ctx context.Context, _ *model.EnvironmentProfile, imageRef string, _ time.Time, _ remote.Runner) model.GovernanceCheckResult {
	res := model.GovernanceCheckResult{Kind: model.CheckSecurityScan, Outcome: model.OutcomePass}
	if g.scanner == nil {
		res.Outcome = model.OutcomeWarn
		res.Detail = "scanner not configured"
		return res
	}
	sum, err := g.scanner.Scan(ctx, imageRef)
	if err != nil {
		res.Outcome = model.OutcomeFail
		res.Detail = fmt.Sprintf("scan unavailable: %v", err)
		return res
	}
	if sum.Critical > 0 {
		res.Outcome = model.OutcomeFail
		res.Detail = fmt.Sprintf("%d critical findings", sum.Critical)
		return res
	}
	if sum.High > 0 || sum.Medium > 0 {
		res.Outcome = model.OutcomeWarn
		res.Detail = fmt.Sprintf("%d high, %d medium findings", sum.High, sum.Medium)
		return res
	}
	res.Detail = "no findings"
	return res
}

func (g *Gate) checkCapacity(ctx context.Context, p *model.EnvironmentProfile, _ string, _ time.Time, runner remote.Runner) model.GovernanceCheckResult {
	res := model.GovernanceCheckResult{Kind: model.CheckDiskSpace, Outcome: model.OutcomePass}

	var pct float64
	var found bool
	if g.disk != nil {
		v, ok, err := g.disk.DiskUsagePercent(ctx, agentHost(p.AgentAddr))
		if err != nil {
			log.Warn().Err(err).Str("tier", string(p.Tier)).Msg("prometheus disk query failed, falling back to agent")
		} else if ok {
			pct, found = v, true
		}
	}
	if !found {
		v, err := runner.DiskUsage(ctx)
		if err != nil {
			res.Outcome = model.OutcomeFail
			res.Detail = fmt.Sprintf("disk utilization unavailable: %v", err)
			return res
		}
		pct = v
	}

	if pct > g.cfg.DiskThreshold {
		res.Outcome = model.OutcomeFail
		res.Detail = fmt.Sprintf("disk %.1f%% above threshold %.1f%%", pct, g.cfg.DiskThreshold)
		return res
	}
	res.Detail = fmt.Sprintf("disk %.1f%%", pct)
	return res
}

func (g *Gate) checkConnectivity(ctx context.Context, p *model.EnvironmentProfile, _ string, _ time.Time, runner remote.Runner) model.GovernanceCheckResult {
	res := model.GovernanceCheckResult{Kind: model.CheckConnectivity, Outcome: model.OutcomePass}
	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()
	if _, _, err := runner.Started(dialCtx, p.ContainerName); err != nil {
		res.Outcome = model.OutcomeFail
		res.Detail = fmt.Sprintf("target host unreachable: %v", err)
		return res
	}
	res.Detail = "target host reachable"
	return res
}

func agentHost(agentAddr string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(agentAddr, "http://"), "https://")
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return s[:i]
	}
	return strings.TrimSuffix(s, "/")
}
