package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/remote"
)

type fakeBackups struct {
	takenAt time.Time
	ok      bool
	err     error
}

func (f *fakeBackups) LatestBackupAt(context.Context, model.Tier) (time.Time, bool, error) {
	return f.takenAt, f.ok, f.err
}

type fakeScanner struct {
	sum *ScanSummary
	err error
}

func (f *fakeScanner) Scan(context.Context, string) (*ScanSummary, error) {
	return f.sum, f.err
}

type fakeDisk struct {
	pct   float64
	found bool
	err   error
}

func (f *fakeDisk) DiskUsagePercent(context.Context, string) (float64, bool, error) {
	return f.pct, f.found, f.err
}

type fakeRunner struct {
	remote.Runner
	started    bool
	startedErr error
	diskPct    float64
	diskErr    error
}

func (f *fakeRunner) Started(context.Context, string) (bool, *remote.RunResult, error) {
	return f.started, &remote.RunResult{}, f.startedErr
}

func (f *fakeRunner) DiskUsage(context.Context) (float64, error) {
	return f.diskPct, f.diskErr
}

var testNow = time.Date(2026, time.August, 26, 10, 0, 0, 0, time.UTC) // a Wednesday

func healthyFixture() (*fakeBackups, *fakeScanner, *fakeDisk, *fakeRunner, Config) {
	freeze, _ := ParseFreezeWindow("Friday", 16, nil)
	cfg := Config{
		MaxBackupAge:   24 * time.Hour,
		DiskThreshold:  85,
		Freeze:         freeze,
		ConnectTimeout: time.Second,
	}
	return &fakeBackups{takenAt: testNow.Add(-2 * time.Hour), ok: true},
		&fakeScanner{sum: &ScanSummary{}},
		&fakeDisk{pct: 40, found: true},
		&fakeRunner{started: true},
		cfg
}

func prodProfile() *model.EnvironmentProfile {
	return &model.EnvironmentProfile{
		Tier:          model.TierProduction,
		ContainerName: "harborline-prod",
		Port:          8103,
		AgentAddr:     "10.0.0.9:9092",
	}
}

func TestGateAllChecksPass(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	gate := NewGate(cfg, backups, scanner, disk)
	results, err := gate.Run(context.Background(), prodProfile(), "registry/app:production-abc1234", testNow, runner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("results = %d, want 5", len(results))
	}
	for _, r := range results {
		if r.Outcome != model.OutcomePass {
			t.Errorf("check %s = %s, want pass (%s)", r.Kind, r.Outcome, r.Detail)
		}
	}
}

func TestGateStaleBackupBlocks(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	backups.takenAt = testNow.Add(-30 * time.Hour)
	gate := NewGate(cfg, backups, scanner, disk)
	results, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner)
	if !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want ErrGovernanceBlocked", err)
	}
	// the full battery still ran for the audit trail
	if len(results) != 5 {
		t.Fatalf("results = %d, want full battery despite failure", len(results))
	}
}

func TestGateMissingBackupBlocks(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	backups.ok = false
	gate := NewGate(cfg, backups, scanner, disk)
	if _, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner); !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want ErrGovernanceBlocked", err)
	}
}

func TestGateFreezeWindowBlocks(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	gate := NewGate(cfg, backups, scanner, disk)
	fridayEvening := time.Date(2026, time.August, 28, 17, 30, 0, 0, time.UTC)
	_, err := gate.Run(context.Background(), prodProfile(), "img", fridayEvening, runner)
	if !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want block inside freeze window", err)
	}
}

func TestGateBlackoutDateBlocks(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	freeze, err := ParseFreezeWindow("", 0, []string{"2026-08-26"})
	if err != nil {
		t.Fatal(err)
	}
	cfg.Freeze = freeze
	gate := NewGate(cfg, backups, scanner, disk)
	if _, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner); !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want block on blackout date", err)
	}
}

func TestGateCriticalFindingsBlockHighOnlyWarn(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	scanner.sum = &ScanSummary{Critical: 2, High: 1}
	gate := NewGate(cfg, backups, scanner, disk)
	if _, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner); !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want block on critical findings", err)
	}

	scanner.sum = &ScanSummary{High: 3, Medium: 5}
	results, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner)
	if err != nil {
		t.Fatalf("high/medium findings should only warn: %v", err)
	}
	for _, r := range results {
		if r.Kind == model.CheckSecurityScan && r.Outcome != model.OutcomeWarn {
			t.Errorf("scan outcome = %s, want warn", r.Outcome)
		}
	}
}

func TestGateNoScannerConfiguredWarns(t *testing.T) {
	backups, _, disk, runner, cfg := healthyFixture()
	gate := NewGate(cfg, backups, nil, disk)
	results, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner)
	if err != nil {
		t.Fatalf("missing scanner should not block: %v", err)
	}
	for _, r := range results {
		if r.Kind == model.CheckSecurityScan && r.Outcome != model.OutcomeWarn {
			t.Errorf("scan outcome = %s, want warn without scanner", r.Outcome)
		}
	}
}

func TestGateDiskThresholdBlocks(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	disk.pct = 92
	gate := NewGate(cfg, backups, scanner, disk)
	if _, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner); !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want block above disk threshold", err)
	}
}

func TestGateDiskFallsBackToAgent(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	disk.found = false
	runner.diskPct = 50
	gate := NewGate(cfg, backups, scanner, disk)
	if _, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner); err != nil {
		t.Fatalf("agent fallback should pass: %v", err)
	}

	runner.diskPct = 95
	if _, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner); !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want block via agent-reported disk", err)
	}
}

func TestGateUnreachableHostBlocks(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	runner.startedErr = errors.New("dial tcp: connection refused")
	gate := NewGate(cfg, backups, scanner, disk)
	if _, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner); !errors.Is(err, model.ErrGovernanceBlocked) {
		t.Fatalf("error = %v, want block when host unreachable", err)
	}
}

func TestGateWaivedCheckDowngradesToWarn(t *testing.T) {
	backups, scanner, disk, runner, cfg := healthyFixture()
	backups.ok = false
	cfg.Waived = []model.GovernanceCheckKind{model.CheckBackup}
	gate := NewGate(cfg, backups, scanner, disk)
	results, err := gate.Run(context.Background(), prodProfile(), "img", testNow, runner)
	if err != nil {
		t.Fatalf("waived failure should not block: %v", err)
	}
	for _, r := range results {
		if r.Kind == model.CheckBackup {
			if r.Outcome != model.OutcomeWarn || !r.Waived {
				t.Errorf("waived backup check = %+v, want warn with Waived set", r)
			}
		}
	}
}

func TestAgentHost(t *testing.T) {
	cases := map[string]string{
		"10.0.0.9:9092":         "10.0.0.9",
		"http://10.0.0.9:9092":  "10.0.0.9",
		"https://agent.prod/":   "agent.prod",
		"agent.prod":            "agent.prod",
	}
	for in, want := range cases {
		if got := agentHost(in); got != want {
			t.Errorf("agentHost(%q) = %q, want %q", in, got, want)
		}
	}
}
