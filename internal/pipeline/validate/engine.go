package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harborline/harborline/internal/pipeline/model"
)

// Config bounds the engine's retry and sampling behavior.
type Config struct {
	// HealthRetries is the maximum number of health probe attempts.
	HealthRetries int
	// RetryDelay is the pause between failed health attempts.
	RetryDelay time.Duration
	// LatencyThreshold marks the latency probe as degraded when exceeded.
	LatencyThreshold time.Duration
	// LoadSamples is the number of sequential requests in the load probe.
	LoadSamples int
	// LoadSuccessRatio is the minimum fraction of load samples that must
	// succeed before the load probe degrades to a warning.
	LoadSuccessRatio float64
}

// Engine runs the post-deployment probe battery against a freshly started
// instance and aggregates the results into a smoke test report. Only the
// connectivity and health probes can fail the deployment; the rest degrade
// to warnings.
type Engine struct {
	cfg     Config
	prober  Prober
	sleepFn func(time.Duration)
}

func NewEngine(cfg Config, prober Prober) *Engine {
	if cfg.HealthRetries <= 0 {
		cfg.HealthRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 3 * time.Second
	}
	if cfg.LoadSamples <= 0 {
		cfg.LoadSamples = 10
	}
	if cfg.LoadSuccessRatio <= 0 {
		cfg.LoadSuccessRatio = 0.9
	}
	return &Engine{cfg: cfg, prober: prober, sleepFn: time.Sleep}
}

// WithSleep replaces the inter-attempt sleep. Tests use this to avoid
// waiting out real retry delays.
func (e *Engine) WithSleep(fn func(time.Duration)) *Engine {
	e.sleepFn = fn
	return e
}

// Run executes the probe sequence in order: connectivity, health, readiness,
// latency, load sample. When connectivity fails the remaining probes are
// skipped since they cannot produce a more useful signal. The returned error
// is non-nil only when the report's aggregate outcome is a failure.
func (e *Engine) Run(ctx context.Context, tier model.Tier, target Target, versionTag string) (*model.SmokeTestReport, error) {
	report := &model.SmokeTestReport{
		Tier:      tier,
		Version:   versionTag,
		StartedAt: time.Now(),
	}

	conn := e.probeConnectivity(ctx, target)
	report.Probes = append(report.Probes, conn)
	if conn.Outcome == model.OutcomeFail {
		return e.finish(report)
	}

	report.Probes = append(report.Probes, e.probeHealth(ctx, target))
	report.Probes = append(report.Probes, e.probeReadiness(ctx, target))
	report.Probes = append(report.Probes, e.probeLatency(ctx, target))
	report.Probes = append(report.Probes, e.probeLoad(ctx, target))
	return e.finish(report)
}

func (e *Engine) finish(report *model.SmokeTestReport) (*model.SmokeTestReport, error) {
	report.FinishedAt = time.Now()
	report.Aggregate = model.OutcomePass
	var failed []string
	for _, p := range report.Probes {
		switch p.Outcome {
		case model.OutcomeFail:
			report.Aggregate = model.OutcomeFail
			failed = append(failed, string(p.Kind)+": "+p.Detail)
		case model.OutcomeWarn:
			if report.Aggregate == model.OutcomePass {
				report.Aggregate = model.OutcomeWarn
			}
		}
	}
	for _, p := range report.Probes {
		log.Info().
			Str("probe", string(p.Kind)).
			Str("outcome", string(p.Outcome)).
			Int("attempts", p.Attempts).
			Dur("latency", p.Latency).
			Msg("validation probe finished")
	}
	if report.Aggregate == model.OutcomeFail {
		detail := "validation failed"
		if len(failed) > 0 {
			detail = failed[0]
		}
		return report, model.NewStageError("validate", model.ErrValidationFailed, detail)
	}
	return report, nil
}

func (e *Engine) probeConnectivity(ctx context.Context, target Target) model.ProbeResult {
	res := model.ProbeResult{Kind: model.ProbeConnectivity, Attempts: 1, Outcome: model.OutcomePass}
	if err := e.prober.Dial(ctx, target); err != nil {
		res.Outcome = model.OutcomeFail
		res.Detail = err.Error()
	}
	return res
}

// probeHealth retries up to HealthRetries times with RetryDelay between
// attempts; newly started instances routinely need a few seconds before the
// health endpoint answers.
func (e *Engine) probeHealth(ctx context.Context, target Target) model.ProbeResult {
	res := model.ProbeResult{Kind: model.ProbeHealth}
	for attempt := 1; attempt <= e.cfg.HealthRetries; attempt++ {
		res.Attempts = attempt
		latency, err := e.prober.Get(ctx, target, target.HealthPath)
		res.Latency = latency
		if err == nil {
			res.Outcome = model.OutcomePass
			return res
		}
		res.Detail = err.Error()
		if ctx.Err() != nil {
			break
		}
		if attempt < e.cfg.HealthRetries {
			e.sleepFn(e.cfg.RetryDelay)
		}
	}
	res.Outcome = model.OutcomeFail
	res.Detail = fmt.Sprintf("unhealthy after %d attempts: %s", res.Attempts, res.Detail)
	return res
}

func (e *Engine) probeReadiness(ctx context.Context, target Target) model.ProbeResult {
	res := model.ProbeResult{Kind: model.ProbeReadiness, Attempts: 1, Outcome: model.OutcomePass}
	if target.ReadyPath == "" {
		res.Detail = "no readiness endpoint configured"
		return res
	}
	latency, err := e.prober.Get(ctx, target, target.ReadyPath)
	res.Latency = latency
	if err != nil {
		res.Outcome = model.OutcomeWarn
		res.Detail = err.Error()
	}
	return res
}

func (e *Engine) probeLatency(ctx context.Context, target Target) model.ProbeResult {
	res := model.ProbeResult{Kind: model.ProbeLatency, Attempts: 1, Outcome: model.OutcomePass}
	latency, err := e.prober.Get(ctx, target, target.HealthPath)
	res.Latency = latency
	if err != nil {
		res.Outcome = model.OutcomeWarn
		res.Detail = err.Error()
		return res
	}
	if e.cfg.LatencyThreshold > 0 && latency > e.cfg.LatencyThreshold {
		res.Outcome = model.OutcomeWarn
		res.Detail = fmt.Sprintf("latency %s exceeds threshold %s", latency, e.cfg.LatencyThreshold)
	}
	return res
}

func (e *Engine) probeLoad(ctx context.Context, target Target) model.ProbeResult {
	res := model.ProbeResult{Kind: model.ProbeLoadSample, Attempts: e.cfg.LoadSamples, Outcome: model.OutcomePass}
	succeeded := 0
	var total time.Duration
	for i := 0; i < e.cfg.LoadSamples; i++ {
		if ctx.Err() != nil {
			break
		}
		latency, err := e.prober.Get(ctx, target, target.HealthPath)
		total += latency
		if err == nil {
			succeeded++
		}
	}
	if succeeded > 0 {
		res.Latency = total / time.Duration(succeeded)
	}
	ratio := float64(succeeded) / float64(e.cfg.LoadSamples)
	res.Detail = fmt.Sprintf("%d/%d samples succeeded", succeeded, e.cfg.LoadSamples)
	if ratio < e.cfg.LoadSuccessRatio {
		res.Outcome = model.OutcomeWarn
	}
	return res
}
