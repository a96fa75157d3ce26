// Package gateway sends native requests to upstream model and tool APIs with
// bounded retries, and answers locally when no upstream is configured.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultTimeout     = 7 * time.Second
	DefaultMaxAttempts = 2
	DefaultBackoff     = 300 * time.Millisecond
)

// Mode tells whether a result came from the upstream or the local simulation.
type Mode string

const (
	ModeProxy Mode = "proxy"
	ModeMock  Mode = "mock"
)

// Doer is the subset of *http.Client the gateway needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	// Timeout bounds each attempt separately.
	Timeout     time.Duration
	MaxAttempts int
	// Backoff is the fixed pause between attempts. Negative disables it.
	Backoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
	}
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	switch {
	case o.Backoff == 0:
		o.Backoff = DefaultBackoff
	case o.Backoff < 0:
		o.Backoff = 0
	}
	return o
}

// Request is one upstream call.
type Request struct {
	// URL is the upstream endpoint. Empty selects the local simulation.
	URL         string
	Credential  Credential
	RequireAuth bool
	Payload     []byte
	// Headers are added to the outbound request before the credential.
	Headers http.Header
}

// Result is a successful upstream exchange.
type Result struct {
	Status   int
	Body     json.RawMessage
	Header   http.Header
	Mode     Mode
	Attempts int
}

type Gateway struct {
	client Doer
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func New(client Doer, opts Options, logger *slog.Logger) *Gateway {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

func (g *Gateway) Options() Options {
	return g.opts
}

// Forward posts req.Payload to req.URL. Transport failures are retried up to
// MaxAttempts; an upstream response of any status ends the loop. All errors
// are *Error.
func (g *Gateway) Forward(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.URL) == "" {
		g.logger.Debug("No upstream endpoint configured, simulating response")
		return simulate(req.Payload, g.now())
	}

	if req.RequireAuth && req.Credential.Token == "" {
		return nil, &Error{
			Kind:   KindConfigurationMissing,
			Status: http.StatusUnauthorized,
			Err:    ErrMissingCredential,
		}
	}

	var lastErr error
	attempts := 0

	for attempt := 1; attempt <= g.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := g.wait(ctx); err != nil {
				lastErr = transportError(ctx, err)
				break
			}
		}

		attempts = attempt
		result, err := g.attempt(ctx, req)
		if err == nil {
			result.Attempts = attempt
			g.logger.Debug("Upstream responded", "url", req.URL, "status", result.Status, "attempt", attempt)
			return result, nil
		}

		var gwErr *Error
		if errors.As(err, &gwErr) {
			gwErr.Attempts = attempt
			return nil, gwErr
		}

		lastErr = err

		var transportErr *TransportError
		if !errors.As(err, &transportErr) || !transportErr.Retryable() {
			break
		}

		if attempt < g.opts.MaxAttempts {
			g.logger.Warn("Upstream attempt failed, retrying",
				"url", req.URL,
				"attempt", attempt,
				"fault", transportErr.Fault,
				"error", transportErr.Err,
			)
		}
	}

	return nil, &Error{
		Kind:     KindTransientTransport,
		Attempts: attempts,
		Err:      lastErr,
	}
}

func (g *Gateway) attempt(ctx context.Context, req Request) (*Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, &Error{
			Kind: KindTransientTransport,
			Err:  &TransportError{Fault: FaultUnknown, Err: fmt.Errorf("build upstream request: %w", err)},
		}
	}

	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip, br")
	req.Credential.Apply(httpReq.Header)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, g.bodyFailure(ctx, resp.StatusCode, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Error{
			Kind:   KindUpstreamRejected,
			Status: resp.StatusCode,
			Body:   rejectionBody(body),
			Header: resp.Header.Clone(),
		}
	}

	if !json.Valid(body) {
		return nil, &Error{
			Kind:   KindMalformedUpstreamBody,
			Status: resp.StatusCode,
			Err:    ErrMalformedBody,
		}
	}

	header := resp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &Result{
		Status: resp.StatusCode,
		Body:   json.RawMessage(body),
		Header: header,
		Mode:   ModeProxy,
	}, nil
}

// bodyFailure classifies an error reading a response the upstream already
// sent. Only recognized connection faults are retried; the request has been
// processed upstream, so anything else ends the loop.
func (g *Gateway) bodyFailure(ctx context.Context, status int, err error) error {
	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return &Error{
			Kind:   KindMalformedUpstreamBody,
			Status: status,
			Err:    fmt.Errorf("%w: %w", ErrMalformedBody, err),
		}
	}

	transportErr := transportError(ctx, err)
	if transportErr.Fault == FaultUnknown {
		return &Error{
			Kind:   KindTransientTransport,
			Status: status,
			Err:    transportErr,
		}
	}

	return transportErr
}

// wait sleeps for the backoff or until ctx is done.
func (g *Gateway) wait(ctx context.Context) error {
	if g.opts.Backoff <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(g.opts.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
