package validate

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Target locates the deployed instance's probe endpoints.
type Target struct {
	Host       string
	Port       int
	HealthPath string
	ReadyPath  string
}

func (t Target) addr() string { return net.JoinHostPort(t.Host, strconv.Itoa(t.Port)) }

// Prober issues the two primitive checks every probe is built from. Injectable
// so the engine's retry behavior is testable without a live instance.
type Prober interface {
	// Dial checks transport-level reachability of the target port.
	Dial(ctx context.Context, t Target) error
	// Get performs an HTTP GET against path; a 2xx response is positive.
	Get(ctx context.Context, t Target, path string) (time.Duration, error)
}

// HTTPProber is the production Prober.
type HTTPProber struct {
	client  *http.Client
	dialer  net.Dialer
	timeout time.Duration
}

func NewHTTPProber(timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProber{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (p *HTTPProber) Dial(ctx context.Context, t Target) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	conn, err := p.dialer.DialContext(dialCtx, "tcp", t.addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr(), err)
	}
	return conn.Close()
}

func (p *HTTPProber) Get(ctx context.Context, t Target, path string) (time.Duration, error) {
	url := "http://" + t.addr() + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return elapsed, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return elapsed, nil
}
