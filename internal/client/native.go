package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/transport"
)

// NativeClient fetches targets with net/http.
type NativeClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewNativeClient creates a NativeClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewNativeClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *NativeClient {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// Upstream is asked for identity encoding; never decode on the proxy's behalf.
		DisableCompression: true,
		// Bounds the wait for the response head only; bodies may stream indefinitely.
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(cfg.Transport.DialTimeoutSeconds) * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &NativeClient{
		httpClient: &http.Client{Transport: tr},
		logger:     logger.With("component", "native_client"),
		metrics:    m,
	}
}

// Fetch executes a GET for req. The provided context controls the lifetime of
// the upstream request, including its body.
func (c *NativeClient) Fetch(ctx context.Context, req *model.TargetRequest) (*model.UpstreamResponse, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	hreq.Header = req.Header.Clone()

	c.logger.Debug("upstream request", "host", req.Host, "path", req.Path)

	start := time.Now()
	resp, err := c.httpClient.Do(hreq) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(transport.Native.String()).Observe(duration)
			c.metrics.UpstreamErrors.WithLabelValues(transport.Native.String(), errorType(err)).Inc()
		}
		return nil, &TransportError{Transport: transport.Native, Err: err}
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(transport.Native.String()).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(transport.Native.String(), strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
