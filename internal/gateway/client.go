// Package gateway holds the HTTP clients for the remote validation service and
// the order gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_basket/internal/metrics"
	"github.com/fjod/go_basket/pkg/circuitbreaker"
	"github.com/fjod/go_basket/pkg/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	validatePath = "api/validate/purchase-order"
	echoPath     = "api/echo/purchase-order"
	submitPath   = "api/entity/purchase-order"

	maxBodySize = 1 << 20
)

// FaultError is a non-success response from a gateway. Gateway names the
// client that saw it, "validation" or "order".
type FaultError struct {
	Gateway    string
	StatusCode int
	Body       []byte
}

func (e *FaultError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("%s responded with status %d", e.Source(), e.StatusCode)
	}
	return fmt.Sprintf("%s responded with status %d: %s", e.Source(), e.StatusCode, body)
}

// Source is the human readable name of the gateway that answered.
func (e *FaultError) Source() string {
	if e.Gateway == "" {
		return "gateway"
	}
	return e.Gateway + " gateway"
}

// IsClientFault reports whether err is a 4xx response. Those are answers, not
// outages, and do not trip the circuit breaker.
func IsClientFault(err error) bool {
	var fault *FaultError
	return errors.As(err, &fault) && fault.StatusCode >= 400 && fault.StatusCode < 500
}

type Options struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default otelhttp instrumented client.
	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

type client struct {
	name    string
	baseURL string
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func newClient(name string, opts Options) client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return client{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/") + "/",
		http:    httpClient,
		log:     logger.OrNop(opts.Logger),
		metrics: opts.Metrics,
	}
}

func breakerSettings(name string) circuitbreaker.Settings {
	s := circuitbreaker.DefaultSettings(name)
	s.IsSuccessful = func(err error) bool {
		return err == nil || IsClientFault(err)
	}
	return s
}

// do sends in as JSON and returns the status and the raw response body.
// Transport errors are returned as is; status interpretation is left to callers.
func (c client) do(ctx context.Context, method, path string, header http.Header, in any) (int, []byte, error) {
	started := time.Now()
	status, body, err := c.roundTrip(ctx, method, path, header, in)
	c.metrics.ObserveGateway(c.name, err == nil && status < 500, started)
	if err != nil {
		logger.FromContext(ctx, c.log).Warn("gateway request failed",
			zap.String("gateway", c.name),
			zap.String("path", path),
			zap.Error(err))
	}
	return status, body, err
}

func (c client) roundTrip(ctx context.Context, method, path string, header http.Header, in any) (int, []byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("failed to read %s response: %w", c.name, err)
	}
	return res.StatusCode, body, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
