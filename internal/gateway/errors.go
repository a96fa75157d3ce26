package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Kind classifies why Forward did not produce a result.
type Kind string

const (
	KindConfigurationMissing  Kind = "configuration_missing"
	KindTransientTransport    Kind = "transient_transport"
	KindUpstreamRejected      Kind = "upstream_rejected"
	KindMalformedUpstreamBody Kind = "malformed_upstream_body"
)

var (
	ErrMissingCredential = errors.New("upstream credential is not configured")
	ErrMalformedBody     = errors.New("upstream returned a body that is not valid JSON")
)

// Error is returned by Forward for every failure.
type Error struct {
	Kind Kind
	// Status is the upstream HTTP status, zero when no response was received.
	Status int
	// Body is the upstream error payload for KindUpstreamRejected, always JSON.
	Body json.RawMessage
	// Header holds the upstream response headers for KindUpstreamRejected.
	Header   http.Header
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUpstreamRejected:
		return fmt.Sprintf("upstream rejected request with status %d", e.Status)
	case KindTransientTransport:
		return fmt.Sprintf("upstream unreachable after %d attempt(s): %v", e.Attempts, e.Err)
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}

	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fault names the transport failure behind a KindTransientTransport error.
type Fault string

const (
	FaultTimeout            Fault = "timeout"
	FaultConnectionReset    Fault = "connection_reset"
	FaultDNSFailure         Fault = "dns_failure"
	FaultTLSFailure         Fault = "tls_failure"
	FaultNetworkUnreachable Fault = "network_unreachable"
	FaultConnectionClosed   Fault = "connection_closed"
	FaultCanceled           Fault = "canceled"
	FaultUnknown            Fault = "unknown"
)

// TransportError is a failure to exchange bytes with the upstream.
type TransportError struct {
	Fault Fault
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Fault, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt ran out of time.
func (e *TransportError) Timeout() bool {
	return e.Fault == FaultTimeout
}

// Retryable reports whether another attempt may succeed. Only caller
// cancellation is final.
func (e *TransportError) Retryable() bool {
	return e.Fault != FaultCanceled
}

// Classify maps a transport error to a Fault by inspecting its chain.
func Classify(err error) Fault {
	if err == nil {
		return FaultUnknown
	}

	if errors.Is(err, context.Canceled) {
		return FaultCanceled
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FaultTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FaultDNSFailure
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FaultTimeout
	}

	if isTLSError(err) {
		return FaultTLSFailure
	}

	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE):
		return FaultConnectionReset
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		return FaultNetworkUnreachable
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, http.ErrServerClosed):
		return FaultConnectionClosed
	}

	return FaultUnknown
}

func isTLSError(err error) bool {
	var (
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)

	return errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}

// transportError classifies err from one attempt. A cancelled parent
// context always wins so the retry loop stops.
func transportError(parent context.Context, err error) *TransportError {
	if parent.Err() != nil {
		return &TransportError{Fault: FaultCanceled, Err: err}
	}

	return &TransportError{Fault: Classify(err), Err: err}
}

// rejectionBody keeps a JSON error payload as is and wraps anything else.
func rejectionBody(raw []byte) json.RawMessage {
	if len(raw) > 0 && json.Valid(raw) {
		return json.RawMessage(raw)
	}

	wrapped, err := json.Marshal(map[string]any{
		"error": map[string]any{"message": string(raw)},
	})
	if err != nil {
		return json.RawMessage(`{"error":{"message":""}}`)
	}

	return wrapped
}
