// Package artifact builds and publishes deployable images.
package artifact

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/rs/zerolog/log"
)

// CommandRunner abstracts the container build toolchain.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (output string, err error)
}

// Publisher builds an image from a verified source tree and pushes it to the
// registry. Publishing the same tag twice overwrites, so retried pipeline runs
// converge instead of erroring.
type Publisher struct {
	registry  string
	imageName string
	cmd       CommandRunner
}

func NewPublisher(registry, imageName string) *Publisher {
	return &Publisher{registry: registry, imageName: imageName, cmd: &execRunner{}}
}

func (p *Publisher) WithCommandRunner(cmd CommandRunner) *Publisher {
	p.cmd = cmd
	return p
}

// VersionTag derives the deterministic tag for a tier and commit.
func VersionTag(tier model.Tier, commit string) string {
	short := commit
	if len(short) > 7 {
		short = short[:7]
	}
	return fmt.Sprintf("%s-%s", tier, short)
}

// Publish builds sourceDir into registry/name:tag and pushes it.
func (p *Publisher) Publish(ctx context.Context, sourceDir string, tier model.Tier, commit string) (*model.ArtifactVersion, error) {
	av := &model.ArtifactVersion{
		Registry: p.registry,
		Name:     p.imageName,
		Tag:      VersionTag(tier, commit),
		BuiltAt:  time.Now().UTC(),
	}
	ref := av.Ref()

	out, err := p.cmd.Run(ctx, sourceDir, "docker", "build", "-t", ref, ".")
	if err != nil {
		return nil, model.NewStageError("publish", model.ErrBuildFailed, out)
	}
	log.Info().Str("image", ref).Msg("image built")

	out, err = p.cmd.Run(ctx, sourceDir, "docker", "push", ref)
	if err != nil {
		return nil, model.NewStageError("publish", model.ErrPushFailed, out)
	}
	log.Info().Str("image", ref).Msg("image pushed")

	return av, nil
}

type execRunner struct{}

func (*execRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
