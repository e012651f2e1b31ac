// Package verify runs the pre-publish static-analysis and test battery.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/rs/zerolog/log"
)

// Runner executes the stage table against a source tree and emits a structured
// report artifact. Blocking stages short-circuit on first failure; advisory
// stages always run so their results stay visible in the report.
type Runner struct {
	stages     []Stage
	cmd        CommandRunner
	reportsDir string
}

func NewRunner(stages []Stage, reportsDir string) *Runner {
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	return &Runner{stages: stages, cmd: &execRunner{}, reportsDir: reportsDir}
}

// WithCommandRunner overrides tool execution, for tests.
func (r *Runner) WithCommandRunner(cmd CommandRunner) *Runner {
	r.cmd = cmd
	return r
}

// Run verifies sourceDir at the given commit. selector narrows the test stage
// when non-empty. Returns the report in every case; the error is non-nil only
// when a blocking stage failed.
func (r *Runner) Run(ctx context.Context, sourceDir, commit, selector string) (*model.VerificationReport, error) {
	report := &model.VerificationReport{
		Commit:    commit,
		Aggregate: model.OutcomePass,
		CreatedAt: time.Now().UTC(),
	}

	var failedStage string
	var failedDetail string
	for _, st := range r.stages {
		if st.Blocking && failedStage != "" {
			// a blocking stage already failed; skip the remaining blocking ones
			continue
		}
		args := append([]string{}, st.Command[1:]...)
		if st.TestStage && selector != "" {
			args = append(args, "-k", selector)
		}

		start := time.Now()
		output, err := r.cmd.Run(ctx, sourceDir, st.Command[0], args...)
		elapsed := time.Since(start)

		res := model.VerificationStageResult{Stage: st.Name, Blocking: st.Blocking, Outcome: model.OutcomePass, Elapsed: elapsed}
		if err != nil {
			res.Detail = truncate(output, 4096)
			if st.Blocking {
				res.Outcome = model.OutcomeFail
				failedStage = st.Name
				failedDetail = res.Detail
				log.Warn().Str("stage", st.Name).Dur("elapsed", elapsed).Msg("blocking verification stage failed")
			} else {
				res.Outcome = model.OutcomeWarn
				log.Info().Str("stage", st.Name).Msg("advisory verification stage degraded")
			}
		} else {
			log.Debug().Str("stage", st.Name).Dur("elapsed", elapsed).Msg("verification stage passed")
		}
		report.Stages = append(report.Stages, res)
	}

	if failedStage != "" {
		report.Aggregate = model.OutcomeFail
	}
	if err := r.writeReport(report); err != nil {
		log.Error().Err(err).Msg("failed to write verification report")
	}

	if failedStage != "" {
		return report, model.NewStageError(failedStage, model.ErrVerificationFailed, failedDetail)
	}
	return report, nil
}

func (r *Runner) writeReport(report *model.VerificationReport) error {
	if r.reportsDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.reportsDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("verify-%s-%d.json", report.Commit, report.CreatedAt.Unix())
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(r.reportsDir, name), data, 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// execRunner shells out through os/exec with combined output.
type execRunner struct{}

func (*execRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
