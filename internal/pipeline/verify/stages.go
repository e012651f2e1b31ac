package verify

import "context"

// Stage is one verification step. The blocking/advisory split is configuration
// data, reviewable in one place, rather than being inferred from exit codes.
type Stage struct {
	Name      string   `json:"name" yaml:"name"`
	Blocking  bool     `json:"blocking" yaml:"blocking"`
	Command   []string `json:"command" yaml:"command"`
	TestStage bool     `json:"testStage,omitempty" yaml:"testStage,omitempty"` // receives the optional test selector
}

// CommandRunner abstracts tool execution so the runner can be tested without a
// toolchain installed.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (output string, err error)
}

// DefaultStages is the standard battery: lint, formatting conformance and the
// unit suite block; coverage, import ordering and type checking advise only.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "static-analysis", Blocking: true, Command: []string{"ruff", "check", "."}},
		{Name: "formatting", Blocking: true, Command: []string{"ruff", "format", "--check", "."}},
		{Name: "unit-tests", Blocking: true, TestStage: true, Command: []string{"pytest", "-x", "-q", "tests/"}},
		{Name: "coverage", Blocking: false, Command: []string{"pytest", "--cov=src", "--cov-fail-under=80", "-q", "tests/"}},
		{Name: "import-order", Blocking: false, Command: []string{"isort", "--check-only", "."}},
		{Name: "type-check", Blocking: false, Command: []string{"mypy", "src/"}},
	}
}
