package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestProxyHeaders_AddsHeaders(t *testing.T) {
	e := echo.New()
	e.Use(ProxyHeaders("1.2.3"))
	e.GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("X-Proxy-Version"); v != "1.2.3" {
		t.Errorf("X-Proxy-Version = %q, want %q", v, "1.2.3")
	}
}

func TestProxyHeaders_OnErrorResponse(t *testing.T) {
	e := echo.New()
	e.Use(ProxyHeaders("1"))
	e.GET("/test", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestProxyHeaders_StripsFrameBlockingHeaders(t *testing.T) {
	e := echo.New()
	e.Use(ProxyHeaders("1"))
	e.GET("/test", func(c echo.Context) error {
		c.Response().Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		c.Response().Header().Set("X-Frame-Options", "DENY")
		c.Response().Header().Set("Content-Type", "video/mp2t")
		c.Response().WriteHeader(http.StatusOK)
		_, err := c.Response().Write([]byte("data"))
		return err
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if v := rec.Header().Get("Content-Security-Policy"); v != "" {
		t.Errorf("Content-Security-Policy should be stripped, got %q", v)
	}
	if v := rec.Header().Get("X-Frame-Options"); v != "" {
		t.Errorf("X-Frame-Options should be stripped, got %q", v)
	}
	if v := rec.Header().Get("Content-Type"); v != "video/mp2t" {
		t.Errorf("Content-Type = %q, want %q", v, "video/mp2t")
	}
}

func TestProxyHeaders_StripsHopByHop(t *testing.T) {
	e := echo.New()
	e.Use(ProxyHeaders("1"))

	var gotConnection, gotProxyAuth string
	e.GET("/test", func(c echo.Context) error {
		gotConnection = c.Request().Header.Get("Connection")
		gotProxyAuth = c.Request().Header.Get("Proxy-Authorization")
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Proxy-Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if gotConnection != "" {
		t.Errorf("Connection header should be stripped, got %q", gotConnection)
	}
	if gotProxyAuth != "" {
		t.Errorf("Proxy-Authorization header should be stripped, got %q", gotProxyAuth)
	}
}
