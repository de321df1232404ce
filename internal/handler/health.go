package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"hls-proxy-go/internal/config"
	"hls-proxy-go/internal/transport"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg      *config.Config
	version  Version
	selector *transport.Selector
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	ProxyVersion string `json:"proxy_version"`
	ProxyPath    string `json:"proxy_path"`
	RawPort      int    `json:"raw_socket_port"`
	RawHosts     int    `json:"raw_socket_hosts"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, sel *transport.Selector) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, selector: sel}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns the build version and a summary of the transport policy.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:       "ok",
		Version:      string(h.version),
		ProxyVersion: h.cfg.Proxy.Version,
		ProxyPath:    h.cfg.Proxy.Path,
		RawPort:      h.selector.RawPort(),
		RawHosts:     h.selector.Hosts(),
	})
}
