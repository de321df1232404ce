// Package client provides the upstream transports the proxy fetches targets with.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/transport"
)

// Fetcher performs one upstream GET. The caller must close the returned body.
type Fetcher interface {
	Fetch(ctx context.Context, req *model.TargetRequest) (*model.UpstreamResponse, error)
}

// TransportError reports that no response head could be obtained from upstream.
type TransportError struct {
	Transport transport.Kind
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// errorType returns a bounded label describing err for metrics.
func errorType(err error) string {
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &dnsErr):
		return "dns"
	case errors.As(err, &opErr):
		return "connect"
	default:
		return "other"
	}
}
