package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// AgentClient implements Runner against the harborline host agent. The agent
// listens on the target host and translates each command into the local
// container runtime.
type AgentClient struct {
	baseURL string
	client  *http.Client
}

// NewAgentClient builds a client for one target host, e.g. "http://10.0.0.5:9092".
func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *AgentClient) post(ctx context.Context, path string, params url.Values) (*RunResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s request: %w", path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s failed: status %d, body: %s", path, resp.StatusCode, string(bodyBytes))
	}

	var result RunResult
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	if result.Error != "" {
		return &result, fmt.Errorf("%s error: %s", path, result.Diagnostics())
	}
	return &result, nil
}

func (a *AgentClient) Pull(ctx context.Context, imageRef string) (*RunResult, error) {
	params := url.Values{}
	params.Add("image", imageRef)
	return a.post(ctx, "/pull", params)
}

func (a *AgentClient) Stop(ctx context.Context, containerName string) (string, *RunResult, error) {
	params := url.Values{}
	params.Add("container", containerName)
	result, err := a.post(ctx, "/stop", params)
	if err != nil {
		return "", result, err
	}
	// the agent reports the removed container's image ref on stdout
	return strings.TrimSpace(result.Output), result, nil
}

func (a *AgentClient) Start(ctx context.Context, spec StartSpec) (*RunResult, error) {
	params := url.Values{}
	params.Add("container", spec.ContainerName)
	params.Add("image", spec.ImageRef)
	params.Add("port", strconv.Itoa(spec.Port))
	for k, v := range spec.Env {
		params.Add("env", k+"="+v)
	}
	return a.post(ctx, "/start", params)
}

func (a *AgentClient) Started(ctx context.Context, containerName string) (bool, *RunResult, error) {
	params := url.Values{}
	params.Add("container", containerName)
	result, err := a.post(ctx, "/status", params)
	if err != nil {
		return false, result, err
	}
	return strings.TrimSpace(result.Output) == "running", result, nil
}

func (a *AgentClient) DiskUsage(ctx context.Context) (float64, error) {
	result, err := a.post(ctx, "/disk", url.Values{})
	if err != nil {
		return 0, err
	}
	pct, perr := strconv.ParseFloat(strings.TrimSpace(result.Output), 64)
	if perr != nil {
		return 0, fmt.Errorf("unexpected disk response %q: %w", result.Output, perr)
	}
	return pct, nil
}
