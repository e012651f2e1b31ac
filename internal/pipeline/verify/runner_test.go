package verify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/harborline/harborline/internal/pipeline/model"
)

type fakeCmd struct {
	// failures maps tool name to the output it fails with.
	failures map[string]string
	ran      []string
	args     map[string][]string
}

func newFakeCmd() *fakeCmd {
	return &fakeCmd{failures: map[string]string{}, args: map[string][]string{}}
}

func (f *fakeCmd) Run(_ context.Context, _ string, name string, args ...string) (string, error) {
	key := name + " " + strings.Join(args, " ")
	f.ran = append(f.ran, key)
	f.args[name] = args
	for prefix, out := range f.failures {
		if strings.HasPrefix(key, prefix) {
			return out, errors.New("exit status 1")
		}
	}
	return "", nil
}

func stageByName(t *testing.T, report *model.VerificationReport, name string) model.VerificationStageResult {
	t.Helper()
	for _, st := range report.Stages {
		if st.Stage == name {
			return st
		}
	}
	t.Fatalf("stage %s not in report", name)
	return model.VerificationStageResult{}
}

func TestRunAllStagesPass(t *testing.T) {
	cmd := newFakeCmd()
	r := NewRunner(nil, "").WithCommandRunner(cmd)
	report, err := r.Run(context.Background(), "/srv/src", "abc1234", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Aggregate != model.OutcomePass {
		t.Errorf("aggregate = %s, want pass", report.Aggregate)
	}
	if len(report.Stages) != len(DefaultStages()) {
		t.Errorf("stages = %d, want %d", len(report.Stages), len(DefaultStages()))
	}
}

func TestRunBlockingFailureShortCircuitsBlockingOnly(t *testing.T) {
	cmd := newFakeCmd()
	cmd.failures["ruff check"] = "E501 line too long"
	r := NewRunner(nil, "").WithCommandRunner(cmd)

	report, err := r.Run(context.Background(), "/srv/src", "abc1234", "")
	if !errors.Is(err, model.ErrVerificationFailed) {
		t.Fatalf("error = %v, want ErrVerificationFailed", err)
	}
	var stageErr *model.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "static-analysis" {
		t.Fatalf("error = %v, want static-analysis stage error", err)
	}
	if report.Aggregate != model.OutcomeFail {
		t.Errorf("aggregate = %s, want fail", report.Aggregate)
	}

	// later blocking stages were skipped
	for _, ran := range cmd.ran {
		if strings.HasPrefix(ran, "pytest -x") || strings.HasPrefix(ran, "ruff format") {
			t.Errorf("blocking stage %q ran after a blocking failure", ran)
		}
	}
	// advisory stages still ran for the report
	if _, ok := cmd.args["isort"]; !ok {
		t.Error("advisory import-order stage skipped")
	}
	if _, ok := cmd.args["mypy"]; !ok {
		t.Error("advisory type-check stage skipped")
	}
}

func TestRunAdvisoryFailureWarnsOnly(t *testing.T) {
	cmd := newFakeCmd()
	cmd.failures["mypy"] = "src/app.py:10: error: incompatible types"
	r := NewRunner(nil, "").WithCommandRunner(cmd)

	report, err := r.Run(context.Background(), "/srv/src", "abc1234", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Aggregate != model.OutcomePass {
		t.Errorf("aggregate = %s, want pass despite advisory failure", report.Aggregate)
	}
	tc := stageByName(t, report, "type-check")
	if tc.Outcome != model.OutcomeWarn {
		t.Errorf("type-check outcome = %s, want warn", tc.Outcome)
	}
	if !strings.Contains(tc.Detail, "incompatible types") {
		t.Errorf("type-check detail = %q, want tool output preserved", tc.Detail)
	}
}

func TestRunSelectorNarrowsTestStage(t *testing.T) {
	cmd := newFakeCmd()
	r := NewRunner(nil, "").WithCommandRunner(cmd)
	if _, err := r.Run(context.Background(), "/srv/src", "abc1234", "smoke"); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(cmd.args["pytest"], " ")
	if !strings.Contains(joined, "-k smoke") {
		t.Errorf("pytest args = %q, want -k smoke", joined)
	}
	if joined := strings.Join(cmd.args["ruff"], " "); strings.Contains(joined, "-k") {
		t.Errorf("selector leaked into non-test stage: %q", joined)
	}
}

func TestRunWritesReportArtifact(t *testing.T) {
	dir := t.TempDir()
	cmd := newFakeCmd()
	r := NewRunner(nil, dir).WithCommandRunner(cmd)
	if _, err := r.Run(context.Background(), "/srv/src", "abc1234", ""); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("report files = %d, want 1", len(entries))
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	var report model.VerificationReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report artifact is not valid JSON: %v", err)
	}
	if report.Commit != "abc1234" {
		t.Errorf("report commit = %s", report.Commit)
	}
}
