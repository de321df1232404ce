package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/metrics"
	"hls-proxy-go/internal/model"
	"hls-proxy-go/internal/service"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// preflightHeaders answer CORS preflight requests for the proxy endpoint.
var preflightHeaders = map[string]string{
	echo.HeaderAccessControlAllowOrigin:  "*",
	echo.HeaderAccessControlAllowMethods: "GET, OPTIONS",
	echo.HeaderAccessControlAllowHeaders: "Range, X-Requested-With, Content-Type",
	echo.HeaderAccessControlMaxAge:       "86400",
}

// ProxyHandler serves the proxy endpoint.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Preflight answers an OPTIONS request with 204 and the CORS headers.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	for key, value := range preflightHeaders {
		c.Response().Header().Set(key, value)
	}
	return c.NoContent(http.StatusNoContent)
}

// Handle fetches the target named by the url query parameter and writes the
// result: a rewritten playlist, an upstream error, or the streamed body.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:       req.Context(),
		TargetURL: c.QueryParam("url"),
		Referer:   c.QueryParam("referer"),
		Endpoint:  h.endpoint(c),
		Header:    req.Header,
	}

	res, err := h.service.Proxy(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	dst := c.Response().Header()
	for key, vals := range res.Header {
		dst[key] = vals
	}

	if res.Kind == model.ResultPassthrough {
		return h.stream(c, res)
	}
	if res.Kind == model.ResultRewritten && dst.Get(echo.HeaderContentType) == "" {
		dst.Set(echo.HeaderContentType, playlistContentType)
	}
	return h.writeText(c, res)
}

// stream copies the upstream body to the client. Once the status is written a
// failure can only truncate the response, so it is logged and not returned.
func (h *ProxyHandler) stream(c echo.Context, res *model.ProxyResult) error {
	defer func() { _ = res.Body.Close() }()

	c.Response().WriteHeader(res.StatusCode)

	n, err := io.Copy(c.Response(), res.Body)
	h.countBytes(res.Kind, n)
	if err != nil {
		level := slog.LevelError
		if errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		h.logger.Log(c.Request().Context(), level, "streaming response body",
			"err", err,
			"bytes", n,
		)
	}
	return nil
}

func (h *ProxyHandler) writeText(c echo.Context, res *model.ProxyResult) error {
	c.Response().Header().Set(echo.HeaderContentLength, strconv.Itoa(len(res.Text)))
	c.Response().WriteHeader(res.StatusCode)
	n, err := io.WriteString(c.Response(), res.Text)
	h.countBytes(res.Kind, int64(n))
	return err
}

func (h *ProxyHandler) countBytes(kind model.ResultKind, n int64) {
	if h.metrics != nil && n > 0 {
		h.metrics.BytesStreamed.WithLabelValues(kind.String()).Add(float64(n))
	}
}

// endpoint returns the absolute proxy endpoint URL embedded in rewritten playlists.
func (h *ProxyHandler) endpoint(c echo.Context) string {
	if h.cfg.Proxy.PublicURL != "" {
		return h.cfg.Proxy.PublicURL + h.cfg.Proxy.Path
	}
	return c.Scheme() + "://" + c.Request().Host + h.cfg.Proxy.Path
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrMissingURL):
		return c.String(http.StatusBadRequest, service.ErrMissingURL.Error())
	case errors.Is(err, service.ErrInvalidURL):
		h.logger.Debug("invalid target", "err", err)
		return c.String(http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrHostNotAllowed):
		h.logger.Warn("target host rejected", "err", err)
		return c.String(http.StatusForbidden, err.Error())
	}

	h.logger.Error("proxy error", "err", err)
	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": err.Error(),
	})
}
