package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mihaisavezi/chat-proxy/internal/gateway"
)

// Error types carried in the "type" field of error responses.
const (
	ErrTypeInvalidRequest = "invalid_request_error"
	ErrTypeNotFound       = "not_found_error"
	ErrTypeAuthentication = "authentication_error"
	ErrTypeAPI            = "api_error"
	ErrTypeTimeout        = "timeout_error"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func marshalError(errorType, message string) []byte {
	if strings.TrimSpace(message) == "" {
		message = "request failed"
	}

	body, err := json.Marshal(errorEnvelope{Error: errorBody{Type: errorType, Message: message}})
	if err != nil {
		return []byte(`{"error":{"type":"api_error","message":"failed to marshal error"}}`)
	}

	return body
}

// writeError writes a JSON error envelope.
func writeError(w http.ResponseWriter, statusCode int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(marshalError(errorType, message))
}

// writeJSON writes body, which must already be JSON, with the given status.
func writeJSON(w http.ResponseWriter, statusCode int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(body)
}

// writeGatewayError translates a Forward failure into a response. Upstream
// rejections are relayed with their own status and body.
func writeGatewayError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) {
		logger.Error("Upstream request failed", "error", err)
		writeError(w, http.StatusBadGateway, ErrTypeAPI, "upstream request failed")
		return
	}

	switch gwErr.Kind {
	case gateway.KindUpstreamRejected:
		logger.Warn("Upstream rejected request", "status", gwErr.Status)
		relayHeaders(w.Header(), gwErr.Header)
		writeJSON(w, gwErr.Status, gwErr.Body)
	case gateway.KindConfigurationMissing:
		logger.Warn("Upstream credential missing")
		writeError(w, http.StatusUnauthorized, ErrTypeAuthentication, "no API key configured for this upstream")
	case gateway.KindMalformedUpstreamBody:
		logger.Error("Upstream returned a malformed body", "status", gwErr.Status)
		writeError(w, http.StatusBadGateway, ErrTypeAPI, "upstream returned an invalid response")
	default:
		var transportErr *gateway.TransportError
		if errors.As(err, &transportErr) && transportErr.Timeout() {
			logger.Error("Upstream timed out", "attempts", gwErr.Attempts, "error", err)
			writeError(w, http.StatusGatewayTimeout, ErrTypeTimeout, "upstream timeout")
			return
		}

		logger.Error("Upstream request failed", "attempts", gwErr.Attempts, "error", err)
		writeError(w, http.StatusBadGateway, ErrTypeAPI, "upstream request failed")
	}
}

// relayHeaders copies the upstream's rate limit headers onto the response so
// the browser can back off on its own.
func relayHeaders(dst, src http.Header) {
	for key, values := range src {
		lower := strings.ToLower(key)
		if lower != "retry-after" && !strings.HasPrefix(lower, "x-ratelimit-") {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}
