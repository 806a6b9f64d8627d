package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"

	apperrors "github.com/utafrali/rentchain/pkg/errors"
)

// CircuitBreakerConfig configures a CircuitBreakerClient.
type CircuitBreakerConfig struct {
	// Name labels metrics and logs and qualifies parsed 5xx errors.
	Name string

	// MaxRequests may pass while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts; 0 never clears them.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration

	// The breaker opens once MinRequests were seen and at least FailureRatio
	// of them failed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultCircuitBreakerConfig returns the settings used for calls to name.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// ErrCircuitOpen is wrapped into errors for calls the breaker refused.
var ErrCircuitOpen = gobreaker.ErrOpenState

var (
	circuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	circuitBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Calls refused without reaching the downstream service",
		},
		[]string{"name"},
	)
)

// CircuitBreakerClient is a Doer that stops calling a failing service.
// Transport errors and 5xx responses count as failures; 4xx responses are
// answers and pass through untouched so callers can act on 401 and 403.
type CircuitBreakerClient struct {
	next    Doer
	breaker *gobreaker.CircuitBreaker[*http.Response]
	name    string
}

// NewCircuitBreakerClient wraps next.
func NewCircuitBreakerClient(next Doer, cfg CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerClient {
	breaker := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= cfg.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// A caller abandoning its own request says nothing about the service.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			circuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	circuitBreakerState.WithLabelValues(cfg.Name).Set(float64(gobreaker.StateClosed))

	return &CircuitBreakerClient{next: next, breaker: breaker, name: cfg.Name}
}

// Do sends req unless the breaker is open. A refused call fails with an error
// matching both ErrCircuitOpen and apperrors.ErrServiceUnavail; a 5xx answer
// is returned as the error parsed from its envelope.
func (c *CircuitBreakerClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.next.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, ParseResponseError(resp, c.name)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		circuitBreakerRejections.WithLabelValues(c.name).Inc()
		return nil, fmt.Errorf("%s: %w: %w", c.name, apperrors.ErrServiceUnavail, err)
	}
	return resp, err
}

// State reports the breaker state.
func (c *CircuitBreakerClient) State() gobreaker.State {
	return c.breaker.State()
}
