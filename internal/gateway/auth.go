package gateway

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
)

// HeaderUpstreamToken lets a caller supply the upstream credential for one
// request instead of the configured one.
const HeaderUpstreamToken = "X-Upstream-Token"

// Diagnostic response headers.
const (
	HeaderMode       = "X-Proxy-Mode"
	HeaderAuthMode   = "X-Proxy-Auth-Mode"
	HeaderAuthBearer = "X-Proxy-Auth-Bearer"
	HeaderAuthLen    = "X-Proxy-Auth-Len"
	HeaderAuthHash   = "X-Proxy-Auth-Hash"
)

// AuthMode records where the credential came from.
type AuthMode string

const (
	AuthModeNone   AuthMode = "none"
	AuthModeHeader AuthMode = "header"
	AuthModeEnv    AuthMode = "env"
)

// AuthType selects how the credential is attached to the upstream request.
type AuthType string

const (
	AuthTypeBearer AuthType = "bearer"
	AuthTypeHeader AuthType = "header"
)

const fingerprintLength = 12

// Credential is the upstream token chosen for one request.
type Credential struct {
	Token string
	Mode  AuthMode
	Type  AuthType
	// Header carries the token when Type is AuthTypeHeader.
	Header string
}

// ResolveCredential picks the caller override when present, else the
// configured token. A "Bearer " prefix on either is stripped.
func ResolveCredential(configured, override string, authType AuthType, header string) Credential {
	cred := Credential{
		Mode:   AuthModeNone,
		Type:   authType,
		Header: header,
	}

	if cred.Type == "" {
		cred.Type = AuthTypeBearer
	}
	if cred.Type == AuthTypeHeader && strings.TrimSpace(cred.Header) == "" {
		cred.Type = AuthTypeBearer
	}

	if token := stripBearer(override); token != "" {
		cred.Token = token
		cred.Mode = AuthModeHeader
		return cred
	}

	if token := stripBearer(configured); token != "" {
		cred.Token = token
		cred.Mode = AuthModeEnv
	}

	return cred
}

func stripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

// Bearer reports whether the token is sent as an Authorization bearer.
func (c Credential) Bearer() bool {
	return c.Token != "" && c.Type != AuthTypeHeader
}

// Apply attaches the credential to an outbound request's headers.
func (c Credential) Apply(h http.Header) {
	if c.Token == "" {
		return
	}

	if c.Bearer() {
		h.Set("Authorization", "Bearer "+c.Token)
		return
	}

	h.Set(c.Header, c.Token)
}

// Diagnostics describes a credential without revealing it.
type Diagnostics struct {
	AuthMode AuthMode
	Bearer   bool
	Length   int
	// Hash is the first 12 hex characters of the token's SHA-256, empty
	// when there is no token.
	Hash string
}

func (c Credential) Diagnostics() Diagnostics {
	d := Diagnostics{
		AuthMode: c.Mode,
		Bearer:   c.Bearer(),
		Length:   len(c.Token),
	}

	if c.Token != "" {
		sum := sha256.Sum256([]byte(c.Token))
		d.Hash = hex.EncodeToString(sum[:])[:fingerprintLength]
	}

	return d
}

// WriteHeaders sets the diagnostic headers for a response produced in mode.
func (d Diagnostics) WriteHeaders(h http.Header, mode Mode) {
	h.Set(HeaderMode, string(mode))
	h.Set(HeaderAuthMode, string(d.AuthMode))
	h.Set(HeaderAuthBearer, strconv.FormatBool(d.Bearer))
	h.Set(HeaderAuthLen, strconv.Itoa(d.Length))
	h.Set(HeaderAuthHash, d.Hash)
}
