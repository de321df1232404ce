// Package manifest rewrites HLS playlists so that every URI they reference is
// fetched through the proxy.
package manifest

import (
	"net/url"
	"regexp"
	"strings"
)

// uriAttr matches a quoted URI attribute in a tag line, e.g. #EXT-X-KEY:METHOD=AES-128,URI="key.bin".
var uriAttr = regexp.MustCompile(`URI="([^"]*)"`)

// Context carries what a single rewrite needs.
type Context struct {
	// BaseURL is the URL the playlist was fetched from.
	BaseURL string
	// ProxyEndpoint is the absolute URL of the proxy endpoint, without query.
	ProxyEndpoint string
	// Referer is forwarded on every proxied URL.
	Referer string
}

// IsPlaylist reports whether a response should be buffered and rewritten: an
// mpegurl content type or a request path ending in .m3u8.
func IsPlaylist(contentType, rawURL string) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}

// Rewrite returns text with each segment line and each URI attribute replaced
// by a proxied URL. Blank lines and tags without a URI attribute are kept as is.
func Rewrite(text string, ctx Context) string {
	r := newResolver(ctx.BaseURL)
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			// unchanged
		case strings.HasPrefix(trimmed, "#"):
			loc := uriAttr.FindStringSubmatchIndex(line)
			if loc == nil {
				continue
			}
			proxied := ctx.proxied(r.resolve(line[loc[2]:loc[3]]))
			lines[i] = line[:loc[2]] + proxied + line[loc[3]:]
		default:
			lines[i] = ctx.proxied(r.resolve(trimmed)) + lineEnding(line)
		}
	}
	return strings.Join(lines, "\n")
}

// lineEnding returns the CR left on line when the playlist uses CRLF.
func lineEnding(line string) string {
	if strings.HasSuffix(line, "\r") {
		return "\r"
	}
	return ""
}

// ProxiedURL wraps target in a proxy endpoint URL carrying the referer.
func ProxiedURL(endpoint, target, referer string) string {
	return endpoint + "?url=" + url.QueryEscape(target) + "&referer=" + url.QueryEscape(referer)
}

func (c Context) proxied(target string) string {
	return ProxiedURL(c.ProxyEndpoint, target, c.Referer)
}

// resolver resolves playlist URIs against the playlist URL.
type resolver struct {
	scheme string
	origin string // scheme://host
	dir    string // origin + path up to and including the last '/'
}

func newResolver(base string) resolver {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		// Fall back to plain string truncation.
		dir := base
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			dir = base[:i+1]
		}
		return resolver{dir: dir}
	}

	origin := u.Scheme + "://" + u.Host
	path := u.EscapedPath()
	dir := "/"
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		dir = path[:i+1]
	}
	return resolver{scheme: u.Scheme, origin: origin, dir: origin + dir}
}

// Resolve resolves uri against the playlist at base using the same rules as Rewrite.
func Resolve(base, uri string) string {
	return newResolver(base).resolve(uri)
}

func (r resolver) resolve(uri string) string {
	switch {
	case isAbsolute(uri):
		return uri
	case strings.HasPrefix(uri, "//") && r.scheme != "":
		return r.scheme + ":" + uri
	case strings.HasPrefix(uri, "/") && r.origin != "":
		return r.origin + uri
	default:
		return r.dir + uri
	}
}

func isAbsolute(uri string) bool {
	u, err := url.Parse(uri)
	return err == nil && u.Scheme != ""
}
