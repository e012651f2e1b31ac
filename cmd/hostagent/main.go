// The harborline host agent runs on each target host and translates the
// orchestrator's swap commands into the local container runtime.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/fox-gonic/fox"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harborline/harborline/internal/remote"
)

const commandTimeout = 5 * time.Minute

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := ":9092"
	if port := os.Getenv("AGENT_PORT"); port != "" {
		addr = ":" + port
	}

	agent := &agent{runtime: envOr("AGENT_RUNTIME", "docker")}

	router := fox.New()
	router.POST("/pull", agent.Pull)
	router.POST("/stop", agent.Stop)
	router.POST("/start", agent.Start)
	router.POST("/status", agent.Status)
	router.POST("/disk", agent.Disk)

	log.Info().Str("addr", addr).Str("runtime", agent.runtime).Msg("starting harborline host agent")
	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("host agent exited")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type agent struct {
	runtime string // docker or podman
}

// run executes one runtime command and folds its streams into a RunResult.
func (a *agent) run(ctx context.Context, args ...string) remote.RunResult {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, a.runtime, args...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	res := remote.RunResult{
		Output: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

func formValue(c *fox.Context, key string) string {
	return c.Request.PostFormValue(key)
}

func (a *agent) Pull(c *fox.Context) {
	image := formValue(c, "image")
	if image == "" {
		c.JSON(http.StatusBadRequest, remote.RunResult{Error: "missing image"})
		return
	}
	log.Info().Str("image", image).Msg("pulling image")
	c.JSON(http.StatusOK, a.run(c.Request.Context(), "pull", image))
}

// Stop removes the named container and reports the image it was running on
// stdout. A missing container is not an error; the orchestrator treats that
// as a first deployment.
func (a *agent) Stop(c *fox.Context) {
	container := formValue(c, "container")
	if container == "" {
		c.JSON(http.StatusBadRequest, remote.RunResult{Error: "missing container"})
		return
	}
	ctx := c.Request.Context()

	inspect := a.run(ctx, "inspect", "--format", "{{.Config.Image}}", container)
	if inspect.Error != "" {
		// nothing to stop
		c.JSON(http.StatusOK, remote.RunResult{Output: ""})
		return
	}
	prevImage := inspect.Output

	log.Info().Str("container", container).Str("image", prevImage).Msg("stopping container")
	if res := a.run(ctx, "stop", container); res.Error != "" {
		c.JSON(http.StatusOK, res)
		return
	}
	if res := a.run(ctx, "rm", container); res.Error != "" {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusOK, remote.RunResult{Output: prevImage})
}

func (a *agent) Start(c *fox.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, remote.RunResult{Error: err.Error()})
		return
	}
	container := c.Request.PostForm.Get("container")
	image := c.Request.PostForm.Get("image")
	port := c.Request.PostForm.Get("port")
	if container == "" || image == "" || port == "" {
		c.JSON(http.StatusBadRequest, remote.RunResult{Error: "missing container, image or port"})
		return
	}

	args := []string{"run", "-d", "--name", container, "--restart", "unless-stopped",
		"-p", fmt.Sprintf("%s:%s", port, port)}
	for _, kv := range c.Request.PostForm["env"] {
		args = append(args, "-e", kv)
	}
	args = append(args, image)

	log.Info().Str("container", container).Str("image", image).Str("port", port).Msg("starting container")
	c.JSON(http.StatusOK, a.run(c.Request.Context(), args...))
}

// Status reports "running", "absent" or the runtime's own state string.
// Absence is a normal answer, not an error, so first deployments and
// governance connectivity checks can distinguish the two.
func (a *agent) Status(c *fox.Context) {
	container := formValue(c, "container")
	if container == "" {
		c.JSON(http.StatusBadRequest, remote.RunResult{Error: "missing container"})
		return
	}
	res := a.run(c.Request.Context(), "inspect", "--format", "{{.State.Status}}", container)
	if res.Error != "" {
		c.JSON(http.StatusOK, remote.RunResult{Output: "absent"})
		return
	}
	c.JSON(http.StatusOK, remote.RunResult{Output: res.Output})
}

// Disk answers root filesystem utilization as a bare percentage.
func (a *agent) Disk(c *fox.Context) {
	var st syscall.Statfs_t
	if err := syscall.Statfs("/", &st); err != nil {
		c.JSON(http.StatusOK, remote.RunResult{Error: err.Error()})
		return
	}
	total := st.Blocks * uint64(st.Bsize)
	free := st.Bavail * uint64(st.Bsize)
	if total == 0 {
		c.JSON(http.StatusOK, remote.RunResult{Error: "statfs reported zero capacity"})
		return
	}
	used := 100 * float64(total-free) / float64(total)
	c.JSON(http.StatusOK, remote.RunResult{Output: fmt.Sprintf("%.1f", used)})
}
