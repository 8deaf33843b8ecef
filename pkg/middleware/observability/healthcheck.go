package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var startTime = time.Now()

// HealthCheckConfig configures default timeouts for a health check run.
type HealthCheckConfig struct {
	// Timeout is used for any HealthChecker whose own Timeout() is zero.
	Timeout time.Duration
}

// DefaultHealthCheckConfig returns a 5-second default check timeout.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{Timeout: 5 * time.Second}
}

// HealthCheckOption configures a HealthCheckRegistry at construction time.
type HealthCheckOption func(*HealthCheckConfig)

// WithHealthCheckTimeout sets the default per-check timeout.
func WithHealthCheckTimeout(timeout time.Duration) HealthCheckOption {
	return func(cfg *HealthCheckConfig) { cfg.Timeout = timeout }
}

// runHealthChecks runs every check concurrently and aggregates the
// results into a single report.
func runHealthChecks(ctx context.Context, checks []HealthChecker, cfg HealthCheckConfig) HealthReport {
	report := HealthReport{
		Status:    HealthStatusHealthy,
		Checks:    make(map[string]HealthCheckResult),
		Uptime:    time.Since(startTime),
		Timestamp: time.Now(),
	}
	if len(checks) == 0 {
		return report
	}

	var mu sync.Mutex
	var g errgroup.Group
	for _, check := range checks {
		check := check
		g.Go(func() error {
			timeout := check.Timeout()
			if timeout == 0 {
				timeout = cfg.Timeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := check.Check(checkCtx)
			result := HealthCheckResult{Name: check.Name(), Status: "ok", Latency: time.Since(start)}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}

			mu.Lock()
			report.Checks[result.Name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, result := range report.Checks {
		if result.Status != "ok" {
			report.Status = HealthStatusUnhealthy
			break
		}
	}
	return report
}

// TCPHealthCheck reports healthy if a TCP connection to Addr succeeds.
type TCPHealthCheck struct {
	CheckName    string
	Addr         string
	CheckTimeout time.Duration
}

func (c *TCPHealthCheck) Name() string { return c.CheckName }

func (c *TCPHealthCheck) Check(ctx context.Context) error {
	timeout := c.Timeout()
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("tcp connection failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return nil
}

func (c *TCPHealthCheck) Timeout() time.Duration { return c.CheckTimeout }

// HTTPHealthCheck reports healthy if URL returns ExpectedStatusCode
// (200 by default).
type HTTPHealthCheck struct {
	CheckName          string
	URL                string
	Method             string
	ExpectedStatusCode int
	Headers            map[string]string
	CheckTimeout       time.Duration
	Client             *http.Client
}

func (c *HTTPHealthCheck) Name() string { return c.CheckName }

func (c *HTTPHealthCheck) Check(ctx context.Context) error {
	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	expectedStatus := c.ExpectedStatusCode
	if expectedStatus == 0 {
		expectedStatus = http.StatusOK
	}
	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: c.Timeout()}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != expectedStatus {
		return fmt.Errorf("unexpected status code: %d (expected %d)", resp.StatusCode, expectedStatus)
	}
	return nil
}

func (c *HTTPHealthCheck) Timeout() time.Duration {
	if c.CheckTimeout == 0 {
		return 5 * time.Second
	}
	return c.CheckTimeout
}

// FuncHealthCheck wraps an arbitrary function as a HealthChecker.
type FuncHealthCheck struct {
	CheckName    string
	CheckFunc    func(ctx context.Context) error
	CheckTimeout time.Duration
}

func (c *FuncHealthCheck) Name() string                    { return c.CheckName }
func (c *FuncHealthCheck) Check(ctx context.Context) error { return c.CheckFunc(ctx) }
func (c *FuncHealthCheck) Timeout() time.Duration          { return c.CheckTimeout }

// HealthCheckRegistry manages a dynamic, concurrently-safe set of health
// checks that a caller (e.g. an HTTP /health handler it owns) runs on
// demand.
type HealthCheckRegistry struct {
	mu     sync.RWMutex
	checks map[string]HealthChecker
	config HealthCheckConfig
}

// NewHealthCheckRegistry creates an empty registry.
func NewHealthCheckRegistry(opts ...HealthCheckOption) *HealthCheckRegistry {
	cfg := DefaultHealthCheckConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HealthCheckRegistry{checks: make(map[string]HealthChecker), config: cfg}
}

// Register adds or replaces a health check by name.
func (r *HealthCheckRegistry) Register(check HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[check.Name()] = check
}

// Unregister removes a health check by name.
func (r *HealthCheckRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checks, name)
}

// RunAll runs every registered check concurrently and returns the
// aggregated report.
func (r *HealthCheckRegistry) RunAll(ctx context.Context) HealthReport {
	r.mu.RLock()
	checks := make([]HealthChecker, 0, len(r.checks))
	for _, check := range r.checks {
		checks = append(checks, check)
	}
	cfg := r.config
	r.mu.RUnlock()

	return runHealthChecks(ctx, checks, cfg)
}
