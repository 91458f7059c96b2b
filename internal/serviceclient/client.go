// Package serviceclient implements the C6 workflow executor's outbound
// call path for "service" steps: resolving a service name to an ordered
// list of candidate base URLs, rewriting loopback addresses, and invoking
// the first reachable candidate with circuit-breaker and retry protection.
// Grounded on the teacher's infrastructure/resilience primitives and
// infrastructure/httputil's request-classification style.
package serviceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/R3E-Network/workflow_platform/internal/apperrors"
	"github.com/R3E-Network/workflow_platform/internal/jsonvalue"
	"github.com/R3E-Network/workflow_platform/internal/resilience"
)

// Registry resolves a service name to its ordered candidate base URLs, per
// spec.md §4.6. EndpointRegistry (resolve.go) implements the container →
// instance → advertised → host+port → fallback ordering via ResolveBaseURL;
// implementations are otherwise free to source candidates however the
// deployment's service discovery mechanism works, since that substrate
// itself is out of scope.
type Registry interface {
	Candidates(serviceName string) []string
}

// StaticRegistry is a Registry backed by a fixed map, suitable for
// single-deployment configuration and tests.
type StaticRegistry map[string][]string

func (r StaticRegistry) Candidates(serviceName string) []string {
	return r[serviceName]
}

// Config controls the client's loopback rewriting and resilience behavior.
type Config struct {
	Timeout                time.Duration
	DisableLoopbackRewrite bool
	LoopbackHostOverride   string
	Breaker                resilience.BreakerConfig
	Retry                  resilience.Config
}

// DefaultConfig returns sensible defaults for service-step calls.
func DefaultConfig() Config {
	return Config{
		Timeout: 60 * time.Second,
		Breaker: resilience.DefaultBreakerConfig(),
		Retry:   resilience.DefaultConfig(),
	}
}

// Client issues service-step calls against candidates supplied by a
// Registry, tracking one circuit breaker per service name so a failing
// service doesn't keep absorbing retry budget from every step that calls
// it.
type Client struct {
	registry Registry
	http     *http.Client
	cfg      Config

	mu       sync.Mutex
	breakers map[string]*resilience.CircuitBreaker
}

// New builds a Client over registry using cfg.
func New(registry Registry, cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		registry: registry,
		http:     &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		breakers: make(map[string]*resilience.CircuitBreaker),
	}
}

func (c *Client) breakerFor(serviceName string) *resilience.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[serviceName]
	if !ok {
		b = resilience.NewCircuitBreaker(c.cfg.Breaker)
		c.breakers[serviceName] = b
	}
	return b
}

// Call invokes serviceName's path with body as a JSON POST, trying each
// candidate base URL in order until one succeeds. A candidate is
// considered unreachable (and the next is tried) on a transport-level
// error or a 5xx response; any other response is returned as-is (a 4xx
// body together with a validation error).
func (c *Client) Call(ctx context.Context, serviceName, path string, body jsonvalue.Value) (jsonvalue.Value, error) {
	candidates := c.registry.Candidates(serviceName)
	if len(candidates) == 0 {
		return jsonvalue.Null, apperrors.NotFound("service", serviceName)
	}

	breaker := c.breakerFor(serviceName)

	var lastErr error
	for _, base := range candidates {
		target, err := RewriteLoopback(base+path, c.cfg.LoopbackHostOverride, c.cfg.DisableLoopbackRewrite)
		if err != nil {
			lastErr = err
			continue
		}

		var result jsonvalue.Value
		err = breaker.Execute(ctx, func() error {
			return resilience.Retry(ctx, c.cfg.Retry, func() error {
				resp, callErr := c.doRequest(ctx, target, body)
				result = resp
				return callErr
			})
		})
		if err == nil || apperrors.Is(err, apperrors.KindValidation) {
			return result, err
		}
		lastErr = err
	}

	return jsonvalue.Null, apperrors.Wrap(apperrors.KindDependencyUnhealthy, fmt.Sprintf("call service %s", serviceName), lastErr)
}

func (c *Client) doRequest(ctx context.Context, target string, body jsonvalue.Value) (jsonvalue.Value, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body.Raw()))
	if err != nil {
		return jsonvalue.Null, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return jsonvalue.Null, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return jsonvalue.Null, err
	}

	if resp.StatusCode >= 500 {
		return jsonvalue.Null, fmt.Errorf("service returned %d: %s", resp.StatusCode, string(data))
	}
	if resp.StatusCode >= 400 {
		v, _ := jsonvalue.FromRaw(data)
		return v, apperrors.Validation("service returned %d: %s", resp.StatusCode, string(data))
	}
	if len(data) == 0 {
		return jsonvalue.Null, nil
	}

	var decoded json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		return jsonvalue.Null, fmt.Errorf("decode response: %w", err)
	}
	return jsonvalue.FromRaw(decoded)
}
