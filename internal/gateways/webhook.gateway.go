package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nimasrn/webhook-inbox/pkg/logger"
	"github.com/valyala/fasthttp"
)

var (
	ErrNoAvailableTargets = errors.New("no available webhook targets")
	// ErrRejected marks a 4xx answer; resending the same body cannot succeed.
	ErrRejected = errors.New("webhook rejected by target")
)

type TargetMetrics struct {
	TotalRequests    atomic.Int64
	SuccessfulReqs   atomic.Int64
	FailedReqs       atomic.Int64
	TotalLatencyMs   atomic.Int64
	LastLatencyMs    atomic.Int64
	ConsecutiveFails atomic.Int32

	mu             sync.RWMutex
	latencyHistory []int64
	maxHistorySize int
}

func NewTargetMetrics() *TargetMetrics {
	return &TargetMetrics{
		latencyHistory: make([]int64, 0, 100),
		maxHistorySize: 100,
	}
}

func (m *TargetMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
	m.ConsecutiveFails.Store(0)

	m.mu.Lock()
	if len(m.latencyHistory) >= m.maxHistorySize {
		m.latencyHistory = m.latencyHistory[1:]
	}
	m.latencyHistory = append(m.latencyHistory, latencyMs)
	m.mu.Unlock()
}

func (m *TargetMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
	m.ConsecutiveFails.Add(1)
}

func (m *TargetMetrics) AvgLatencyMs() int64 {
	ok := m.SuccessfulReqs.Load()
	if ok == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / ok
}

func (m *TargetMetrics) SuccessRate() float64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return float64(m.SuccessfulReqs.Load()) / float64(total)
}

func (m *TargetMetrics) P95LatencyMs() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencyHistory) == 0 {
		return 0
	}
	sorted := make([]int64, len(m.latencyHistory))
	copy(sorted, m.latencyHistory)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type TargetState int32

const (
	StateHealthy TargetState = iota
	StateDegraded
	StateUnhealthy
	StateCircuitOpen
)

func (s TargetState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	case StateCircuitOpen:
		return "circuit_open"
	}
	return "unknown"
}

// Target is one inbox instance accepting webhook POSTs.
type Target struct {
	name             string
	url              string
	healthURL        string
	client           *fasthttp.Client
	metrics          *TargetMetrics
	state            atomic.Int32
	weight           atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewTarget(name, url, healthURL string, weight int, client *fasthttp.Client) *Target {
	t := &Target{
		name:      name,
		url:       url,
		healthURL: healthURL,
		client:    client,
		metrics:   NewTargetMetrics(),
	}
	t.state.Store(int32(StateHealthy))
	t.weight.Store(int32(weight))
	return t
}

func (t *Target) Name() string { return t.name }

func (t *Target) GetState() TargetState {
	return TargetState(t.state.Load())
}

func (t *Target) SetState(state TargetState) {
	t.state.Store(int32(state))
}

func (t *Target) IsAvailable() bool {
	state := t.GetState()
	if state == StateCircuitOpen {
		if time.Now().UnixNano() > t.circuitOpenUntil.Load() {
			t.SetState(StateDegraded)
			return true
		}
		return false
	}
	return state != StateUnhealthy
}

// CalculateScore ranks targets by success rate, latency and weight. An
// unavailable target scores zero.
func (t *Target) CalculateScore() float64 {
	if !t.IsAvailable() {
		return 0
	}

	successScore := t.metrics.SuccessRate() * 100

	latencyScore := 100.0
	if avg := t.metrics.AvgLatencyMs(); avg > 0 {
		latencyScore = 100.0 * (1.0 - float64(avg)/5000.0)
		if latencyScore < 0 {
			latencyScore = 0
		}
	}

	recentPenalty := 1.0 - float64(t.metrics.ConsecutiveFails.Load())*0.1
	if recentPenalty < 0.1 {
		recentPenalty = 0.1
	}

	statePenalty := 1.0
	if t.GetState() == StateDegraded {
		statePenalty = 0.5
	}

	return (successScore*0.4 + latencyScore*0.4 + float64(t.weight.Load())*0.2) * recentPenalty * statePenalty
}

type Config struct {
	Targets                 []TargetConfig
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	HealthCheckInterval     time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

type TargetConfig struct {
	Name string
	// URL receives the webhook POST.
	URL string
	// HealthURL is polled when health checks are enabled.
	HealthURL string
	Weight    int
}

// DefaultConfig forwards to a single inbox URL.
func DefaultConfig(url string) *Config {
	return &Config{
		Targets:                 []TargetConfig{{Name: "inbox", URL: url, Weight: 100}},
		Timeout:                 5 * time.Second,
		MaxRetries:              2,
		RetryDelay:              200 * time.Millisecond,
		MaxConns:                64,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// DeliveryResponse is the inbox answer to one webhook POST.
type DeliveryResponse struct {
	Target     string
	StatusCode int
	Body       json.RawMessage
	LatencyMs  int64
}

// Client posts webhook payloads to the best available target, retrying
// transport errors and 5xx answers on the next best one.
type Client struct {
	config  *Config
	targets []*Target
	stopCh  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("gateway: config is required")
	}
	if len(config.Targets) == 0 {
		return nil, errors.New("gateway: at least one target is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.CircuitBreakerThreshold <= 0 {
		config.CircuitBreakerThreshold = 5
	}

	c := &Client{
		config:  config,
		targets: make([]*Target, 0, len(config.Targets)),
		stopCh:  make(chan struct{}),
	}
	for _, tc := range config.Targets {
		if tc.URL == "" {
			return nil, fmt.Errorf("gateway: target %q has no url", tc.Name)
		}
		hc := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		}
		c.targets = append(c.targets, NewTarget(tc.Name, tc.URL, tc.HealthURL, tc.Weight, hc))
	}

	if config.HealthCheckInterval > 0 {
		c.wg.Add(1)
		go c.healthChecker()
	}

	logger.Info("[gateway] webhook client initialized", "targets", len(c.targets), "timeout", config.Timeout)
	return c, nil
}

func (c *Client) SelectBestTarget() (*Target, error) {
	var best *Target
	var bestScore float64
	for _, t := range c.targets {
		if !t.IsAvailable() {
			continue
		}
		if score := t.CalculateScore(); best == nil || score > bestScore {
			best, bestScore = t, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailableTargets
	}
	return best, nil
}

// Deliver posts one payload. A 4xx answer is returned with ErrRejected and
// is never retried.
func (c *Client) Deliver(ctx context.Context, payload []byte) (*DeliveryResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		target, err := c.SelectBestTarget()
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		status, body, err := c.do(ctx, target, fasthttp.MethodPost, target.url, payload)
		latency := time.Since(start).Milliseconds()

		if err == nil && status >= 500 {
			err = fmt.Errorf("gateway: %s answered %d: %s", target.name, status, body)
		}
		if err != nil {
			target.metrics.RecordFailure()
			c.checkCircuitBreaker(target)
			logger.Warn("[gateway] delivery failed", "target", target.name, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		target.metrics.RecordSuccess(latency)
		resp := &DeliveryResponse{Target: target.name, StatusCode: status, Body: body, LatencyMs: latency}
		if status >= 400 {
			return resp, fmt.Errorf("%w: status %d: %s", ErrRejected, status, body)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("gateway: failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) do(ctx context.Context, target *Target, method, url string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := target.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, fmt.Errorf("gateway: request to %s: %w", target.name, err)
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return resp.StatusCode(), out, nil
}

func (c *Client) checkCircuitBreaker(t *Target) {
	fails := t.metrics.ConsecutiveFails.Load()
	if fails >= int32(c.config.CircuitBreakerThreshold) && t.GetState() != StateCircuitOpen {
		t.SetState(StateCircuitOpen)
		t.circuitOpenUntil.Store(time.Now().Add(c.config.CircuitBreakerTimeout).UnixNano())
		logger.Warn("[gateway] circuit breaker opened", "target", t.name, "consecutive_fails", fails, "timeout", c.config.CircuitBreakerTimeout)
	}
}

func (c *Client) healthChecker() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.performHealthChecks()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) performHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.Timeout)
	defer cancel()

	for _, t := range c.targets {
		if t.healthURL == "" || t.GetState() == StateCircuitOpen {
			continue
		}
		status, _, err := c.do(ctx, t, fasthttp.MethodGet, t.healthURL, nil)
		healthy := err == nil && status == fasthttp.StatusOK

		old := t.GetState()
		next := old
		if healthy && old == StateUnhealthy {
			next = StateHealthy
		} else if !healthy {
			next = StateUnhealthy
		}
		if next != old {
			t.SetState(next)
			logger.Info("[gateway] target state changed", "target", t.name, "old_state", old.String(), "new_state", next.String())
		}
	}
}

type TargetStats struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	State            string  `json:"state"`
	Score            float64 `json:"score"`
	TotalRequests    int64   `json:"total_requests"`
	FailedReqs       int64   `json:"failed_requests"`
	SuccessRate      float64 `json:"success_rate"`
	AvgLatencyMs     int64   `json:"avg_latency_ms"`
	P95LatencyMs     int64   `json:"p95_latency_ms"`
	ConsecutiveFails int32   `json:"consecutive_fails"`
}

// Stats returns per target statistics, best score first.
func (c *Client) Stats() []TargetStats {
	stats := make([]TargetStats, 0, len(c.targets))
	for _, t := range c.targets {
		stats = append(stats, TargetStats{
			Name:             t.name,
			URL:              t.url,
			State:            t.GetState().String(),
			Score:            t.CalculateScore(),
			TotalRequests:    t.metrics.TotalRequests.Load(),
			FailedReqs:       t.metrics.FailedReqs.Load(),
			SuccessRate:      t.metrics.SuccessRate(),
			AvgLatencyMs:     t.metrics.AvgLatencyMs(),
			P95LatencyMs:     t.metrics.P95LatencyMs(),
			ConsecutiveFails: t.metrics.ConsecutiveFails.Load(),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Score > stats[j].Score })
	return stats
}

func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopCh)
		c.wg.Wait()
	})
}
