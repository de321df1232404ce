package client

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/rawhttp"
	"hls-proxy-go/internal/transport"
)

// RawClient fetches targets with the raw-socket HTTP/1.1 client.
type RawClient struct {
	raw     *rawhttp.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRawClient creates a RawClient dialing real TCP/TLS connections.
func NewRawClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *RawClient {
	d := &rawhttp.NetDialer{
		Timeout: time.Duration(cfg.Transport.DialTimeoutSeconds) * time.Second,
	}
	return NewRawClientWithDialer(d, logger, m)
}

// NewRawClientWithDialer creates a RawClient over the given dialer.
func NewRawClientWithDialer(d rawhttp.Dialer, logger *slog.Logger, m *metrics.Metrics) *RawClient {
	return &RawClient{
		raw:     rawhttp.NewClient(d, logger),
		logger:  logger.With("component", "raw_client"),
		metrics: m,
	}
}

// Fetch executes a GET for req over a fresh connection.
func (c *RawClient) Fetch(ctx context.Context, req *model.TargetRequest) (*model.UpstreamResponse, error) {
	start := time.Now()
	resp, err := c.raw.Fetch(ctx, req)
	duration := time.Since(start).Seconds()

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(transport.RawSocket.String()).Observe(duration)
			c.metrics.UpstreamErrors.WithLabelValues(transport.RawSocket.String(), errorType(err)).Inc()
		}
		return nil, &TransportError{Transport: transport.RawSocket, Err: err}
	}

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(transport.RawSocket.String()).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(transport.RawSocket.String(), strconv.Itoa(resp.Status)).Inc()
	}

	header := make(http.Header, len(resp.Header))
	for name, value := range resp.Header {
		header.Set(name, value)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.Status,
		Header:     header,
		Body:       resp.Body,
	}, nil
}
