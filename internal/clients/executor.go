// Package clients talks to the identity service and the content store.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/sujalbistaa/trustdesk/internal/errs"
	"github.com/sujalbistaa/trustdesk/internal/logging"
)

// ExecutorConfig configures retries and the circuit breaker around one
// collaborator.
type ExecutorConfig struct {
	Name       string
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// Breaker opens after FailureThreshold failures in FailureWindow calls and
	// half-opens after BreakerDelay.
	FailureThreshold uint
	FailureWindow    uint
	BreakerDelay     time.Duration
}

func DefaultExecutorConfig(name string, timeout time.Duration) ExecutorConfig {
	return ExecutorConfig{
		Name:             name,
		Timeout:          timeout,
		MaxRetries:       2,
		BaseDelay:        50 * time.Millisecond,
		MaxDelay:         500 * time.Millisecond,
		FailureThreshold: 5,
		FailureWindow:    10,
		BreakerDelay:     15 * time.Second,
	}
}

// ShouldRetry retries network errors, 5xx and 429.
func ShouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	if resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// DefaultTransport caps connections per host so a dead collaborator cannot
// pile up goroutines.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		MaxConnsPerHost:     50,
		MaxIdleConnsPerHost: 10,
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}

// jsonGetter issues GETs through a retry policy and circuit breaker and
// decodes JSON bodies.
type jsonGetter struct {
	name     string
	http     *http.Client
	timeout  time.Duration
	executor failsafe.Executor[*http.Response]
	breaker  circuitbreaker.CircuitBreaker[*http.Response]
}

//nolint:bodyclose // *http.Response is the policy's type parameter
func newJSONGetter(cfg ExecutorConfig, client *http.Client, log logging.Logger) *jsonGetter {
	if client == nil {
		client = &http.Client{Transport: DefaultTransport()}
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(ShouldRetry).
		OnRetry(func(e failsafe.ExecutionEvent[*http.Response]) {
			// The retried attempt's response is dropped; free its connection.
			if resp := e.LastResult(); resp != nil {
				drain(resp)
			}
		}).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cfg.FailureThreshold, cfg.FailureWindow).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		}).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			log.WithFields(logging.Fields{
				"circuit_breaker": cfg.Name,
				"from_state":      stateName(e.OldState),
				"to_state":        stateName(e.NewState),
			}).Warn("circuit breaker state change")
		}).
		Build()

	return &jsonGetter{
		name:     cfg.Name,
		http:     client,
		timeout:  cfg.Timeout,
		executor: failsafe.With[*http.Response](retry, breaker),
		breaker:  breaker,
	}
}

var errNotFound = errors.New("not found")

// get fetches url into out. A 404 yields errNotFound; every other failure is
// wrapped as a dependency outage.
func (g *jsonGetter) get(ctx context.Context, op, url string, out interface{}) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return g.http.Do(req)
	})
	if err != nil {
		if resp != nil {
			drain(resp)
		}
		return errs.Unavailable(op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return errs.Unavailable(op, fmt.Errorf("%s returned %d", g.name, resp.StatusCode))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return errs.Unavailable(op, fmt.Errorf("decode %s response: %w", g.name, err))
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}

// BreakerOpen reports whether calls are currently short-circuited.
func (g *jsonGetter) BreakerOpen() bool {
	return g.breaker.IsOpen()
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.OpenState:
		return "open"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	default:
		return "closed"
	}
}
