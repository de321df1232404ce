package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// frameBlockingHeaders prevent players on other origins from embedding proxied media.
var frameBlockingHeaders = []string{
	"Content-Security-Policy",
	"X-Frame-Options",
}

// ProxyHeaders returns an Echo middleware that strips hop-by-hop headers from
// requests and marks every response as cross-origin readable.
//
// Frame-blocking headers are removed in a Before hook so that handlers which
// copy upstream headers and then stream cannot leak them.
func ProxyHeaders(version string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			res := c.Response()
			res.Header().Set(echo.HeaderAccessControlAllowOrigin, "*")
			res.Header().Set("X-Proxy-Version", version)
			res.Before(func() {
				for _, h := range frameBlockingHeaders {
					res.Header().Del(h)
				}
			})

			return next(c)
		}
	}
}
