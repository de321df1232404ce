// Package service implements the proxy response pipeline.
package service

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"hls-proxy-go/internal/client"
	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/manifest"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/transport"
)

var (
	// ErrMissingURL is returned when the url query parameter is absent.
	ErrMissingURL = errors.New("URL parameter is required")
	// ErrInvalidURL is returned when the target is not an absolute http(s) URL.
	ErrInvalidURL = errors.New("invalid target URL")
	// ErrHostNotAllowed is returned when the target host is outside upstream.allowed_hosts.
	ErrHostNotAllowed = errors.New("target host is not allowed")
	// ErrPlaylistTooLarge is returned when a playlist exceeds proxy.max_playlist_bytes.
	ErrPlaylistTooLarge = errors.New("playlist exceeds size limit")
)

// Browser identity sent to every upstream. Some CDNs refuse anything that does
// not look like a cross-site fetch from a desktop browser.
const (
	userAgent       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	secChUa         = `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`
	textContentType = "text/plain; charset=utf-8"
)

// forwardableRequestHeaders are copied verbatim from the inbound request.
var forwardableRequestHeaders = []string{
	"Range",
	"X-Requested-With",
}

// hopByHopHeaders are never copied from the upstream response.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// strippedResponseHeaders would stop the stream from being embedded by players on other origins.
var strippedResponseHeaders = []string{
	"Content-Security-Policy",
	"X-Frame-Options",
}

// ProxyService fetches a target through the selected transport and turns the
// upstream response into a ProxyResult.
type ProxyService struct {
	fetchers map[transport.Kind]client.Fetcher
	selector *transport.Selector
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewProxyService creates a ProxyService. The metrics parameter is optional.
func NewProxyService(native, raw client.Fetcher, sel *transport.Selector, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		fetchers: map[transport.Kind]client.Fetcher{
			transport.Native:    native,
			transport.RawSocket: raw,
		},
		selector: sel,
		cfg:      cfg,
		logger:   logger.With("component", "proxy_service"),
		metrics:  m,
	}
}

// Proxy performs exactly one upstream fetch for pr. Validation errors are
// returned before any connection is attempted. A returned passthrough result
// owns the upstream body; the caller must close it.
func (s *ProxyService) Proxy(pr *model.ProxyRequest) (*model.ProxyResult, error) {
	target, err := s.buildTarget(pr)
	if err != nil {
		return nil, err
	}

	kind := s.selector.Select(target.Host, target.Port)
	if s.metrics != nil {
		s.metrics.TransportSelections.WithLabelValues(kind.String()).Inc()
	}

	s.logger.Debug("proxying request",
		"host", target.Host,
		"port", target.Port,
		"transport", kind.String(),
	)

	resp, err := s.fetchers[kind].Fetch(pr.Ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target.Host, err)
	}

	return s.respond(target, pr.Endpoint, resp)
}

// respond applies the response rules to a fetched upstream response.
func (s *ProxyService) respond(target *model.TargetRequest, endpoint string, resp *model.UpstreamResponse) (*model.ProxyResult, error) {
	header := s.responseHeader(resp.Header)

	if !isSuccess(resp.StatusCode) {
		_ = resp.Body.Close()
		header.Del("Content-Length")
		header.Del("Content-Encoding")
		header.Set("Content-Type", textContentType)
		s.logger.Debug("upstream error status", "host", target.Host, "status", resp.StatusCode)
		return &model.ProxyResult{
			Kind:       model.ResultUpstreamError,
			StatusCode: resp.StatusCode,
			Header:     header,
			Text:       "Upstream error " + strconv.Itoa(resp.StatusCode),
		}, nil
	}

	if !manifest.IsPlaylist(header.Get("Content-Type"), target.URL) {
		return &model.ProxyResult{
			Kind:       model.ResultPassthrough,
			StatusCode: resp.StatusCode,
			Header:     header,
			Body:       resp.Body,
		}, nil
	}

	text, err := s.readPlaylist(resp.Body)
	if err != nil {
		return nil, err
	}

	rewritten := manifest.Rewrite(text, manifest.Context{
		BaseURL:       target.URL,
		ProxyEndpoint: endpoint,
		Referer:       target.Header.Get("Referer"),
	})
	header.Del("Content-Length")
	if s.metrics != nil {
		s.metrics.PlaylistsRewritten.Inc()
	}

	return &model.ProxyResult{
		Kind:       model.ResultRewritten,
		StatusCode: resp.StatusCode,
		Header:     header,
		Text:       rewritten,
	}, nil
}

// readPlaylist buffers a playlist body, bounded by proxy.max_playlist_bytes, and closes it.
func (s *ProxyService) readPlaylist(body io.ReadCloser) (string, error) {
	defer func() { _ = body.Close() }()

	limit := s.cfg.Proxy.MaxPlaylistBytes
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read playlist: %w", err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%w: more than %d bytes", ErrPlaylistTooLarge, limit)
	}
	return string(data), nil
}

// buildTarget validates the url parameter and assembles the upstream request.
func (s *ProxyService) buildTarget(pr *model.ProxyRequest) (*model.TargetRequest, error) {
	if pr.TargetURL == "" {
		return nil, ErrMissingURL
	}

	u, err := url.Parse(pr.TargetURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port < 1 || port > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", ErrInvalidURL, p)
		}
	}

	if !s.hostAllowed(host) {
		return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}

	referer := s.resolveReferer(pr.Referer, u)

	return &model.TargetRequest{
		URL:    u.String(),
		Scheme: u.Scheme,
		Host:   host,
		Port:   port,
		Path:   u.RequestURI(),
		Header: s.requestHeader(pr.Header, referer),
	}, nil
}

// resolveReferer picks the query referer, then the first matching rule, then the
// configured default, then the target origin.
func (s *ProxyService) resolveReferer(fromQuery string, target *url.URL) string {
	if fromQuery != "" {
		return fromQuery
	}
	host := strings.ToLower(target.Hostname())
	for _, rule := range s.cfg.Proxy.RefererRules {
		if hostMatches(host, rule.HostSuffix) {
			return rule.Referer
		}
	}
	if s.cfg.Proxy.DefaultReferer != "" {
		return s.cfg.Proxy.DefaultReferer
	}
	return target.Scheme + "://" + target.Host + "/"
}

func (s *ProxyService) hostAllowed(host string) bool {
	if len(s.cfg.Upstream.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Upstream.AllowedHosts {
		if hostMatches(host, allowed) {
			return true
		}
	}
	return false
}

func (s *ProxyService) requestHeader(src http.Header, referer string) http.Header {
	dst := http.Header{
		"User-Agent":         {userAgent},
		"Accept":             {"*/*"},
		"Accept-Language":    {"en-US,en;q=0.9"},
		"Accept-Encoding":    {"identity"},
		"Sec-Fetch-Dest":     {"empty"},
		"Sec-Fetch-Mode":     {"cors"},
		"Sec-Fetch-Site":     {"cross-site"},
		"Sec-Ch-Ua":          {secChUa},
		"Sec-Ch-Ua-Mobile":   {"?0"},
		"Sec-Ch-Ua-Platform": {`"Windows"`},
	}
	if referer != "" {
		dst.Set("Referer", referer)
	}
	for _, key := range forwardableRequestHeaders {
		if v := src.Get(key); v != "" {
			dst.Set(key, v)
		}
	}
	return dst
}

func (s *ProxyService) responseHeader(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, key := range hopByHopHeaders {
		dst.Del(key)
	}
	for _, key := range strippedResponseHeaders {
		dst.Del(key)
	}
	dst.Set("Access-Control-Allow-Origin", "*")
	dst.Set("X-Proxy-Version", s.cfg.Proxy.Version)
	return dst
}

// isSuccess covers 206 Partial Content.
func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// hostMatches reports whether host equals suffix or is a subdomain of it.
func hostMatches(host, suffix string) bool {
	suffix = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(suffix)), ".")
	if suffix == "" {
		return false
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}
