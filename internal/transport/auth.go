package transport

import (
	"net/http"
	"strings"
)

// Authenticator applies authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request, apiKey string)
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (a *NoAuth) Apply(_ *http.Request, _ string) {}

// BearerAuth implements Bearer token authentication.
type BearerAuth struct{}

// Apply implements the Authenticator interface for BearerAuth.
func (a *BearerAuth) Apply(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
}

// HeaderAuth implements custom header authentication.
type HeaderAuth struct {
	Header string
	Scheme string // optional value prefix, e.g. "Token"
}

// Apply implements the Authenticator interface for HeaderAuth.
func (a *HeaderAuth) Apply(req *http.Request, apiKey string) {
	value := apiKey
	if a.Scheme != "" {
		value = a.Scheme + " " + apiKey
	}
	req.Header.Set(a.Header, value)
}

// QueryAuth implements API key as query parameter authentication.
type QueryAuth struct {
	Param string
}

// Apply implements the Authenticator interface for QueryAuth.
func (a *QueryAuth) Apply(req *http.Request, apiKey string) {
	if req.URL == nil {
		return
	}
	query := req.URL.Query()
	query.Set(a.Param, apiKey)
	req.URL.RawQuery = query.Encode()
}

// AuthFor picks an authenticator from platform settings. An empty header
// means the Authorization header; the scheme "bearer" (the default there)
// and "basic" are prefixed, "direct" sends the key as-is, and a "?param"
// header sends it as a query parameter.
func AuthFor(header, scheme string) Authenticator {
	if strings.HasPrefix(header, "?") {
		return &QueryAuth{Param: strings.TrimPrefix(header, "?")}
	}
	if header == "" {
		header = "Authorization"
		if scheme == "" {
			scheme = "bearer"
		}
	}

	switch strings.ToLower(scheme) {
	case "bearer":
		if header == "Authorization" {
			return &BearerAuth{}
		}
		return &HeaderAuth{Header: header, Scheme: "Bearer"}
	case "basic":
		return &HeaderAuth{Header: header, Scheme: "Basic"}
	default:
		return &HeaderAuth{Header: header}
	}
}
