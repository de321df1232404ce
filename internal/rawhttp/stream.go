package rawhttp

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"strconv"
	"time"
)

// Stream is a bidirectional byte stream to an origin.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Dialer opens a Stream to host:port, over TLS when secure is set.
type Dialer interface {
	Open(ctx context.Context, host string, port int, secure bool) (Stream, error)
}

// NetDialer opens TCP or TLS connections. TLS verification follows TLSConfig,
// or the system defaults when it is nil.
type NetDialer struct {
	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Open dials host:port.
func (d *NetDialer) Open(ctx context.Context, host string, port int, secure bool) (Stream, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	nd := &net.Dialer{
		Timeout:   d.Timeout,
		KeepAlive: 30 * time.Second,
	}
	if !secure {
		return nd.DialContext(ctx, "tcp", addr)
	}

	cfg := &tls.Config{}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	// HTTP/1.1 only; an h2 ALPN answer would break the request format.
	cfg.NextProtos = []string{"http/1.1"}

	td := &tls.Dialer{NetDialer: nd, Config: cfg}
	return td.DialContext(ctx, "tcp", addr)
}
