// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound proxy request after query parsing.
type ProxyRequest struct {
	Ctx context.Context
	// TargetURL is the raw `url` query parameter.
	TargetURL string
	// Referer is the raw `referer` query parameter, possibly empty.
	Referer string
	// Endpoint is the absolute URL of the proxy endpoint, used when rewriting playlists.
	Endpoint string
	Header   http.Header
}

// TargetRequest is the single upstream GET derived from a ProxyRequest.
// It is built once and not modified afterwards.
type TargetRequest struct {
	URL    string
	Scheme string
	Host   string
	Port   int
	// Path is the request-target: escaped path plus raw query.
	Path   string
	Header http.Header
}

// Secure reports whether the target must be reached over TLS.
func (t *TargetRequest) Secure() bool {
	return t.Scheme == "https"
}

// UpstreamResponse is what a transport returns for a TargetRequest.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ResultKind tags a ProxyResult.
type ResultKind int

const (
	// ResultPassthrough streams the upstream body unmodified.
	ResultPassthrough ResultKind = iota
	// ResultRewritten carries a rewritten playlist.
	ResultRewritten
	// ResultUpstreamError reports a non-success upstream status.
	ResultUpstreamError
)

func (k ResultKind) String() string {
	switch k {
	case ResultPassthrough:
		return "passthrough"
	case ResultRewritten:
		return "rewritten"
	case ResultUpstreamError:
		return "upstream_error"
	default:
		return "unknown"
	}
}

// ProxyResult is the client-facing response assembled by the pipeline.
// Body is set only for ResultPassthrough and must be closed by the caller;
// Text is set for the other kinds.
type ProxyResult struct {
	Kind       ResultKind
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Text       string
}
